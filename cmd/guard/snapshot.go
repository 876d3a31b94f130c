package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/your-org/blipguard/internal/mjpeg"
	"github.com/your-org/blipguard/pkg/storage/framestore"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "grab one frame from a stream and write it to a directory",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "base address or full MJPEG stream URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "path suffix appended to the base address",
				Value: mjpeg.DefaultPathSuffix,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "directory the frame is written to",
				Value: ".",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "give up when no frame arrives within this duration",
				Value: 20 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			url := mjpeg.StreamURL(c.String("url"), c.String("path"))
			grabber := mjpeg.NewGrabber(mjpeg.GrabberConfig{Timeout: c.Duration("timeout")})

			frame, err := grabber.Grab(c.Context, url)
			if err != nil {
				return fmt.Errorf("grab %s: %w", url, err)
			}

			path, err := framestore.NewDiskStore(c.String("out")).Save(c.Context, framestore.Record{
				SourceID:    c.String("url"),
				ContentType: frame.ContentType,
				Extension:   frame.Extension(),
				Data:        frame.Data,
				CapturedAt:  frame.CapturedAt,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "%s (%d bytes, %s)\n", path, len(frame.Data), frame.ContentType)
			return nil
		},
	}
}
