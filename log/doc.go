/*Package log implements the logging for the bolt driver

There are 3 logging levels - trace, info and error. Setting trace would also set info and error logs.
You can use SetLevel("trace") to set trace logging, or set the GOBOLT_LOG environment variable.
*/
package log
