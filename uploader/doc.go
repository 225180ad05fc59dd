// Package uploader splits files into fixed-size chunks and transfers them to
// a shardlift server with bounded parallelism, per-chunk retry with linear
// backoff, pause/resume, and throttled progress reporting. The server
// reassembles the chunks into the original file on finalize.
//
// A Session owns the queue of files and their lifecycle:
//
//	session, err := uploader.NewSession(uploader.Config{
//	    Endpoint:             "https://example.com/api/upload",
//	    MaxConcurrentUploads: 4,
//	}, uploader.Callbacks{
//	    OnProgress: func(files []uploader.Progress) { ... },
//	})
//	id, err := session.AddFile("/path/to/large.iso")
//	err = session.Start(ctx)
package uploader
