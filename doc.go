/*Package bolt implements a client driver for the Bolt graph database
protocol, versions 4.0 through 4.4.

The entry point is the Driver, created from a connection URI with Open.
bolt:// URIs connect straight to one server; neo4j:// URIs enable
cluster routing, where the driver fetches a routing table from the
cluster and dispatches each unit of work to a member able to serve it.
The +s and +ssc URI variants enable TLS, with and without certificate
verification respectively.

Statements can be executed three ways. Driver.Run executes a single
statement in autocommit mode and returns a lazy cursor over its
records.  Driver.Begin opens an explicit transaction whose statements
see each other's uncommitted writes.  Driver.ReadTransaction and
Driver.WriteTransaction run a function inside a managed transaction
and retry it with backoff when the failure is transient, so the
function must be idempotent.

The driver also supports Bolt's pipelining through
Driver.RunPipeline. Pipelines allow the user to send many statements
at once and have them executed by the database without waiting for
each other's results.  This is useful if you have a bunch of
statements that aren't necessarily dependant on one another, and you
want to get better performance.

All integers come back as int64 regardless of how many bytes the
server used to encode them.  Maps are always map[string]interface{}
and lists are always []interface{}.  Queries that return nodes,
relationships or paths yield the structs in the 'structures/graph'
package - Node, Relationship, UnboundRelationship, and Path.  The
driver returns interface{} objects which must have their types
properly asserted to get the data out.

A Driver is safe for concurrent use.  The cursors and transactions it
hands out are bound to one connection each and are not.
*/
package bolt
