package main

import (
	"fmt"
	"log/slog"
	"os"

	"blockpool/blockio"
	"blockpool/bufferpool"
	"blockpool/fsys"
)

func main() {
	br, err := blockio.Open("demo.blocks", bufferpool.BlockSize)
	if err != nil {
		slog.Error("opening block store", "err", err)
		os.Exit(1)
	}
	defer br.Close()

	mgr := bufferpool.NewBufferManager(br, fsys.OS{}, 8*1024*1024, "demo_spill")
	defer mgr.Close()

	id := br.NewBlock()
	h := mgr.RegisterBlock(bufferpool.BlockID(id))

	tok, err := mgr.Pin(h)
	if err != nil {
		slog.Error("pinning block", "err", err)
		os.Exit(1)
	}
	copy(tok.Bytes(), "hello from the buffer pool\n")
	tok.Release()

	tok2, err := mgr.Pin(h)
	if err != nil {
		slog.Error("re-pinning block", "err", err)
		os.Exit(1)
	}
	fmt.Print(string(tok2.Bytes()[:27]))
	tok2.Release()
}
