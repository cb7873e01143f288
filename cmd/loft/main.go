package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"loft/internal/client"
	"loft/internal/server/metadata"
)

func main() {
	cmd, err := client.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Commands: put, get, stat, ls, mv, cp, rm, stats")
		os.Exit(1)
	}

	server := os.Getenv("LOFT_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	c := client.New(server)
	ctx := context.Background()

	if err := run(ctx, c, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd *client.Command) error {
	switch cmd.Kind {
	case client.CmdPut:
		f, err := os.Open(cmd.LocalPath)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		contentType := mime.TypeByExtension(filepath.Ext(cmd.LocalPath))
		blobID, err := c.Upload(ctx, cmd.RemotePath, contentType, f, info.Size(), metadata.NoCheck())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded %s to %s (blob %s)\n", cmd.LocalPath, cmd.RemotePath, blobID)

	case client.CmdGet:
		md, err := c.Stat(ctx, cmd.RemotePath)
		if err != nil {
			return err
		}
		if md == nil {
			return fmt.Errorf("no file at %q", cmd.RemotePath)
		}
		u, err := c.DownloadURL(ctx, md.BlobID)
		if err != nil {
			return err
		}
		fmt.Println(u)

	case client.CmdStat:
		md, err := c.Stat(ctx, cmd.RemotePath)
		if err != nil {
			return err
		}
		if md == nil {
			return fmt.Errorf("no file at %q", cmd.RemotePath)
		}
		fmt.Printf("path:         %s\n", md.Path)
		fmt.Printf("blob:         %s\n", md.BlobID)
		fmt.Printf("content-type: %s\n", md.ContentType)
		fmt.Printf("size:         %d\n", md.Size)
		if md.ExpiresAt != nil {
			fmt.Printf("expires:      %s\n", md.ExpiresAt)
		}

	case client.CmdList:
		cursor := ""
		for {
			page, err := c.List(ctx, cmd.Prefix, cursor, 0)
			if err != nil {
				return err
			}
			for _, f := range page.Files {
				fmt.Printf("%10d  %s\n", f.Size, f.Path)
			}
			if page.IsDone {
				break
			}
			cursor = page.ContinueCursor
		}

	case client.CmdMove:
		if err := c.Move(ctx, cmd.SourcePath, cmd.DestPath); err != nil {
			return err
		}
		fmt.Printf("✓ Moved %s to %s\n", cmd.SourcePath, cmd.DestPath)

	case client.CmdCopy:
		if err := c.Copy(ctx, cmd.SourcePath, cmd.DestPath); err != nil {
			return err
		}
		fmt.Printf("✓ Copied %s to %s\n", cmd.SourcePath, cmd.DestPath)

	case client.CmdRm:
		if err := c.Delete(ctx, cmd.RemotePath); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted %s\n", cmd.RemotePath)

	case client.CmdStats:
		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("files:            %d\n", stats.Files)
		fmt.Printf("blobs:            %d\n", stats.Blobs)
		fmt.Printf("pending uploads:  %d\n", stats.PendingUploads)
		fmt.Printf("orphaned blobs:   %d\n", stats.OrphanedBlobs)
		fmt.Printf("referenced bytes: %d\n", stats.ReferencedBytes)
	}
	return nil
}
