package constant

import (
	_ "embed"
	"fmt"
	"time"
)

var (
	//go:embed version
	Version     string
	compileTime string = "2024-11-01T18:57:01"
	CompileTime time.Time
)

func init() {
	t, err := time.Parse("2006-01-02T15:04:05", compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse CompileTime constant %q. Make sure it is set at build time", compileTime))
	}
	CompileTime = t
}

// CacheVersion invalidates both cache partitions when bumped.
const CacheVersion = "v3"

func StaticCacheName(version string) string {
	return fmt.Sprintf("audioplayer-static-%s", version)
}

func DataCacheName(version string) string {
	return fmt.Sprintf("audioplayer-data-%s", version)
}
