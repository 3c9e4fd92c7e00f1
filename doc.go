// Package tsbridge builds TypeScript projects whose files come from a
// caller-supplied resolver, called synchronously from the build's worker
// goroutines.
//
// # Build paths
//
// An [Engine] offers four ways to feed a build:
//
//   - [Engine.BuildFromFilesystem] reads the project from disk.
//   - [Engine.BuildWithStaticResolver] serves a fixed file map and directory
//     list.
//   - [Engine.BuildWithDynamicResolver] and
//     [Engine.BuildWithDynamicResolverAsync] ask a [ResolverFunc] for every
//     path the build touches.
//   - [Engine.Build] compiles a list of [Source] values laid out as an
//     in-memory project under /project.
//
// # Threading
//
// Dynamic resolvers never run on the build's goroutines. Each request is
// handed to the Engine's script thread, a single goroutine that runs
// resolvers one at a time, and the requesting worker blocks until the answer
// comes back. A resolver can therefore keep unsynchronized state, but it must
// not start a blocking build itself.
//
// Resolver errors, panics and malformed answers all read as "file not found"
// to the build.
//
// # Usage
//
//	e, err := tsbridge.New(tsbridge.WithCacheDB("tsbridge.db"))
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.Build(ctx, []tsbridge.Source{
//		{Name: "index.ts", Content: "const x: number = 42;"},
//	}, nil)
//	for _, f := range res.CompiledFiles() {
//		fmt.Println(f.Name, f.Content)
//	}
//
// # Scripts
//
// [Engine.RunScript] and [Engine.RunSource] evaluate Risor scripts that can
// start builds with script functions as resolvers. See the internal/runtime
// package for the globals exposed to scripts.
package tsbridge
