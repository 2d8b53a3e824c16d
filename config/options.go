package config

import "time"

var (
	ListingFetchTimeout    = 10 * time.Second
	ShellAssetFetchTimeout = 10 * time.Second
	RevalidateTimeout      = 10 * time.Second
	StatsFetchTimeout      = 5 * time.Second
)
