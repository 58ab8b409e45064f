// Package tile fetches map tiles over HTTP and keeps them in a two-tier
// cache so that a renderer can draw without ever waiting on the network.
//
// # Coordinator
//
// The Coordinator answers FetchTile immediately. On a cache hit it returns
// the tile; on a miss it returns a grey placeholder and schedules a
// background transport. When the transport succeeds the tile is cached and
// every listener is told which tile arrived, so it can fetch it again:
//
//	loop := mainloop.New()
//	coord, err := tile.NewCoordinator(loop, http.NewClient(), tile.Options{
//	    Source:   model.OpenStreetMap,
//	    CacheDir: filepath.Join(os.TempDir(), "mapTiles"),
//	})
//
//	coord.AddListener(tile.ListenerFunc(func(zoom, x, y int) {
//	    repaint(zoom, x, y)
//	}))
//
//	loop.Post(func() { draw(coord.FetchTile(3, 4, 2)) })
//	loop.Run(ctx)
//
// # Threading
//
// Every Coordinator method must run on the loop goroutine. Transports run
// on their own goroutines and hand their results back through the loop, so
// the cache, the request queue and the slot allocator need no locks.
//
// # Concurrency
//
// A tile source declares a number of logical servers. At most that many
// transports run at once; the rest wait in the request queue and start in
// arrival order as slots free up.
package tile
