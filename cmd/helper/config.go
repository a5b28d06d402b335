package main

import "time"

const (
	LocationUpdateInterval = 3 * time.Second
	RequestTimeout         = 5 * time.Second
	StatusDelay            = 2 * time.Second
	DefaultSpeedMps        = 12.0
)
