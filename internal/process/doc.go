// Package process runs subprocesses such as ffmpeg decoders and encoders.
//
// A Process is started once with Run and stopped with Shutdown: SIGINT
// first, then SIGKILL to the whole process group after a timeout. Text
// output is logged line by line through an optional LogParser; raw data can
// be exchanged through Pipes (stdin, stdout and extra descriptors).
package process
