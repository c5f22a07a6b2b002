// Command inspector is a read/diagnose REPL over an already-populated
// storage file, grounded on the teacher's main.go (flag wiring, graceful
// shutdown) and directors/command_director.go (trimmed command line,
// strings.Split, switch-on-verb dispatch). It never writes to the file:
// printFileSize, printBTrees, checkBTree, and dump all go through
// engine.Store's read-only surface.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"mvccstore/src/btree"
	"mvccstore/src/config"
	"mvccstore/src/dberrors"
	"mvccstore/src/engine"
	"mvccstore/src/serializer"
	"mvccstore/src/storelog"
)

func printUsage() {
	log.Println("mvccstore inspector - read-only diagnostics for a storage file")
	log.Println("\nUsage:")
	log.Println("  inspector --file=<path>")
	log.Println("\nOptions:")
	flag.PrintDefaults()
	log.Println("\nCommands (once started):")
	log.Println("  filesize               print the backing file's size in bytes")
	log.Println("  btrees                 list every managed tree and its fanout/revision")
	log.Println("  check <name>           walk a tree's pages, verifying structure and checksums")
	log.Println("  dump <name>            print every (key, values) pair in a tree, in order")
	log.Println("  reload                 close and reopen the storage file")
	log.Println("  quit                   exit")
}

func main() {
	var path string
	var verbose bool
	flag.StringVar(&path, "file", "", "path to the storage file to inspect")
	flag.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required")
		printUsage()
		os.Exit(1)
	}

	sugar, err := storelog.New(verbose)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer sugar.Sync()

	settings := *config.Default()
	settings.Verbose = verbose

	st, err := engine.Open(path, engine.WithLogger(sugar), engine.WithSettings(settings))
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}

	repl := &inspectorREPL{path: path, settings: settings, logger: sugar, store: st}
	os.Exit(repl.run())
}

type inspectorREPL struct {
	path     string
	settings config.Settings
	logger   *zap.SugaredLogger
	store    *engine.Store
}

// run reads commands from stdin until quit or EOF, returning the process
// exit code (0 on a clean quit, 1 if checkBTree/dump ever hit a
// structural error).
func (r *inspectorREPL) run() int {
	scanner := bufio.NewScanner(os.Stdin)
	sawFailure := false

	fmt.Println("mvccstore inspector ready. Type a command (filesize, btrees, check <name>, dump <name>, reload, quit).")
	for {
		fmt.Print("inspector> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSuffix(line, ";")
		if line == "" {
			continue
		}
		parts := strings.Split(line, " ")

		switch strings.ToLower(parts[0]) {
		case "filesize":
			r.printFileSize()
		case "btrees":
			r.printBTrees()
		case "check":
			if len(parts) < 2 {
				fmt.Fprintln(os.Stderr, "usage: check <name>")
				continue
			}
			if err := r.checkBTree(parts[1]); err != nil {
				fmt.Fprintf(os.Stderr, "check %s: %v\n", parts[1], err)
				if isStructuralError(err) {
					sawFailure = true
				}
			}
		case "dump":
			if len(parts) < 2 {
				fmt.Fprintln(os.Stderr, "usage: dump <name>")
				continue
			}
			if err := r.dump(parts[1]); err != nil {
				fmt.Fprintf(os.Stderr, "dump %s: %v\n", parts[1], err)
				if isStructuralError(err) {
					sawFailure = true
				}
			}
		case "reload":
			r.reload()
		case "quit", "exit":
			r.store.Close()
			if sawFailure {
				return 1
			}
			return 0
		default:
			fmt.Fprintf(os.Stderr, "unrecognized command %q\n", parts[0])
		}
	}

	r.store.Close()
	if sawFailure {
		return 1
	}
	return 0
}

func isStructuralError(err error) bool {
	return errors.Is(err, dberrors.ErrInvalidBTree) || errors.Is(err, dberrors.ErrInvalidOffset)
}

func (r *inspectorREPL) printFileSize() {
	size, err := r.store.Pager().FileSize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "filesize: %v\n", err)
		return
	}
	fmt.Printf("%s: %d bytes\n", r.path, size)
}

func (r *inspectorREPL) printBTrees() {
	names := r.store.Names()
	if len(names) == 0 {
		fmt.Println("no managed trees")
		return
	}
	for _, name := range names {
		info, header, ok, err := r.store.Inspect(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", name, err)
			continue
		}
		if !ok {
			continue
		}
		fmt.Printf("  %-20s fanout=%-4d dup=%-5v keys=(%s,%s) elems=%-6d revision=%d\n",
			name, info.Fanout, info.AllowDuplicates, info.KeySerializerID, info.ValSerializerID, header.NbElems, header.Revision)
	}
}

func (r *inspectorREPL) reload() {
	if err := r.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "reload: close failed: %v\n", err)
		return
	}
	st, err := engine.Open(r.path, engine.WithLogger(r.logger), engine.WithSettings(r.settings))
	if err != nil {
		log.Fatalf("reload: reopen failed: %v", err)
	}
	r.store = st
	fmt.Println("reloaded")
}

// checkBTree and dump both need a concrete (K, V) instantiation before
// they can call into the generic btree package; Go cannot instantiate a
// generic from the runtime KeySerializerID/ValSerializerID strings
// recorded in Info, so each dispatches over the small set of serializer
// combinations this engine actually ships (C1's registry is open-ended,
// but these are the pairings every example tree in this repo uses).
func (r *inspectorREPL) checkBTree(name string) error {
	info, header, ok, err := r.store.Inspect(name)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.Wrap(dberrors.ErrKeyNotFound, "no such managed tree %q", name)
	}

	switch {
	case info.KeySerializerID == "int64" && info.ValSerializerID == "int64":
		return checkTree(r.store, name, header, serializer.Int64Serializer{}, serializer.Int64Serializer{})
	case info.KeySerializerID == "string" && info.ValSerializerID == "string":
		return checkTree(r.store, name, header, serializer.StringSerializer{}, serializer.StringSerializer{})
	case info.KeySerializerID == "string" && info.ValSerializerID == "bytes":
		return checkTree(r.store, name, header, serializer.StringSerializer{}, serializer.BytesSerializer{})
	case info.KeySerializerID == "bytes" && info.ValSerializerID == "bytes":
		return checkTree(r.store, name, header, serializer.BytesSerializer{}, serializer.BytesSerializer{})
	default:
		return dberrors.Wrap(dberrors.ErrInvalidBTree, "tree %q: unsupported serializer pair (%s, %s) for inspection", name, info.KeySerializerID, info.ValSerializerID)
	}
}

func (r *inspectorREPL) dump(name string) error {
	info, header, ok, err := r.store.Inspect(name)
	if err != nil {
		return err
	}
	if !ok {
		return dberrors.Wrap(dberrors.ErrKeyNotFound, "no such managed tree %q", name)
	}

	switch {
	case info.KeySerializerID == "int64" && info.ValSerializerID == "int64":
		return dumpTree(r.store, header, serializer.Int64Serializer{}, serializer.Int64Serializer{})
	case info.KeySerializerID == "string" && info.ValSerializerID == "string":
		return dumpTree(r.store, header, serializer.StringSerializer{}, serializer.StringSerializer{})
	case info.KeySerializerID == "string" && info.ValSerializerID == "bytes":
		return dumpTree(r.store, header, serializer.StringSerializer{}, serializer.BytesSerializer{})
	case info.KeySerializerID == "bytes" && info.ValSerializerID == "bytes":
		return dumpTree(r.store, header, serializer.BytesSerializer{}, serializer.BytesSerializer{})
	default:
		return dberrors.Wrap(dberrors.ErrInvalidBTree, "tree %q: unsupported serializer pair (%s, %s) for dump", name, info.KeySerializerID, info.ValSerializerID)
	}
}

func checkTree[K any, V any](st *engine.Store, name string, header btree.Header, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) error {
	walked, err := btree.Walk(st.Pager(), header.RootOffset, keySer, valSer)
	if err != nil {
		return err
	}
	fmt.Printf("check %s: ok, %d leaf pages, %d node pages, %d keys, checksum %x\n",
		name, walked.LeafPages, walked.NodePages, walked.NbKeys, walked.Checksum)
	return nil
}

func dumpTree[K any, V any](st *engine.Store, header btree.Header, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) error {
	cur, err := btree.NewCursor(st.Pager(), keySer, valSer, header.RootOffset)
	if err != nil {
		return err
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		values, err := cur.Values()
		if err != nil {
			return err
		}
		fmt.Printf("%v -> %v\n", cur.Key(), values)
	}
}
