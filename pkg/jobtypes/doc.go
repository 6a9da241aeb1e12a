/*
Package jobtypes is the data-model foundation of the job execution
substrate: Job, StatusRecord, the JobMode/JobStatus enums, Config, and the
ProcessError type with the 424 domain code.

The statusstore, wireframe, workerpool, workerproc and engine packages
build on these types, the same way the teacher's pkg/types sits
underneath worker/manager/scheduler.
*/
package jobtypes
