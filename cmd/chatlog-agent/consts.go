package main

import "time"

const (
	sourceChanSize    = 64   // chunks buffered between the reader and the main loop
	sourceReadBufSize = 4096 // per read() buffer for stdin and serial sources
	mirrorQueueSize   = 256  // capacity of the async mirror queue (chunks)
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)
