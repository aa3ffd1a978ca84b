package main

import "time"

const (
	txQueueSize       = 1024 // transmit slot pool capacity per backend
	serialReadBufSize = 4096 // per read() buffer for serial backend
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)
