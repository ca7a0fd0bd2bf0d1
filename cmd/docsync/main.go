package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"

	"github.com/docsync-io/docsync"
	"github.com/docsync-io/docsync/store"
	"github.com/docsync-io/docsync/utils"
)

// REPL per se.
type REPL struct {
	space *docsync.Space
	doc   *docsync.OpenDoc
	rl    *readline.Instance

	events <-chan docsync.ViewChange
	unsub  func()
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("sync"),

	readline.PcItem("view",
		readline.PcItem("create"),
		readline.PcItem("show"),
	),
	readline.PcItem("row",
		readline.PcItem("add"),
		readline.PcItem("del"),
	),
	readline.PcItem("layout"),

	readline.PcItem("presence"),
	readline.PcItem("events"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".docsync_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.unsub != nil {
		repl.unsub()
		repl.unsub = nil
	}
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

func (repl *REPL) current() (*docsync.OpenDoc, error) {
	if repl.doc == nil {
		return nil, fmt.Errorf("no document open, use: open <object_id>")
	}
	return repl.doc, nil
}

func (repl *REPL) CommandOpen(arg string) error {
	if arg == "" {
		arg = docsync.NewObjectID()
	}
	repl.doc = repl.space.Open(arg)
	if repl.unsub != nil {
		repl.unsub()
	}
	repl.events, repl.unsub = repl.doc.Changes.Subscribe()
	fmt.Printf("object %s\n", arg)
	return nil
}

func (repl *REPL) CommandSync() error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	repl.space.Sync(context.Background(), doc.ObjectID)
	fmt.Printf("synced, vv %v\n", doc.Doc.VersionVector())
	return nil
}

func (repl *REPL) CommandViewCreate(viewID string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	if viewID == "" {
		viewID = docsync.NewObjectID()
	}
	doc.Doc.SetMap(
		[]string{docsync.ViewsRoot},
		viewID,
		map[string]any{
			"id":     viewID,
			"name":   "view " + viewID,
			"layout": string(docsync.LayoutGrid),
		},
	)
	fmt.Printf("view %s\n", viewID)
	return nil
}

func (repl *REPL) CommandViewShow(viewID string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	if viewID == "" {
		return fmt.Errorf("usage: view show <view_id>")
	}
	view, ok := doc.Views.CachedView(viewID)
	if !ok {
		value, found := doc.Doc.GetMap([]string{docsync.ViewsRoot, viewID})
		if !found {
			return fmt.Errorf("no such view: %s", viewID)
		}
		blob, _ := json.MarshalIndent(value, "", "  ")
		fmt.Println(string(blob))
		return nil
	}
	blob, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(blob))
	return nil
}

func (repl *REPL) CommandRowAdd(viewID, rowID string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	if viewID == "" || rowID == "" {
		return fmt.Errorf("usage: row add <view_id> <row_id>")
	}
	path := []string{docsync.ViewsRoot, viewID, docsync.KeyRowOrders}
	n := doc.Doc.ListLen(path)
	doc.Doc.InsertAt(path, n, map[string]any{"id": rowID, "height": float64(60)})
	return nil
}

func (repl *REPL) CommandRowDel(viewID, index string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	i, err := strconv.Atoi(index)
	if viewID == "" || err != nil {
		return fmt.Errorf("usage: row del <view_id> <index>")
	}
	doc.Doc.RemoveAt([]string{docsync.ViewsRoot, viewID, docsync.KeyRowOrders}, i, 1)
	return nil
}

func (repl *REPL) CommandLayout(viewID, layout string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	parsed, ok := docsync.ParseLayout(layout)
	if viewID == "" || !ok {
		return fmt.Errorf("usage: layout <view_id> grid|board|calendar")
	}
	doc.Doc.SetMap([]string{docsync.ViewsRoot, viewID}, docsync.KeyLayout, string(parsed))
	return nil
}

func (repl *REPL) CommandPresence(state string) error {
	doc, err := repl.current()
	if err != nil {
		return err
	}
	if state == "" {
		for client, st := range doc.Awareness.Clients() {
			fmt.Printf("%x: %s (clock %d)\n", client, st.State, st.Clock)
		}
		return nil
	}
	if state == "clear" {
		doc.Awareness.CleanLocalState()
		return nil
	}
	blob, _ := json.Marshal(map[string]any{"status": state})
	doc.Awareness.SetLocalState(blob)
	return nil
}

// CommandEvents drains the typed change feed accumulated so far.
func (repl *REPL) CommandEvents() error {
	if _, err := repl.current(); err != nil {
		return err
	}
	for {
		select {
		case ev := <-repl.events:
			fmt.Printf("%T%+v\n", ev, ev)
		default:
			return nil
		}
	}
}

func (repl *REPL) REPL() error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	at := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "help":
		fmt.Println("open [id] | sync | view create|show | row add|del | layout | presence | events | exit")
	case "open":
		err = repl.CommandOpen(at(0))
	case "sync":
		err = repl.CommandSync()
	case "view":
		switch at(0) {
		case "create":
			err = repl.CommandViewCreate(at(1))
		case "show":
			err = repl.CommandViewShow(at(1))
		default:
			err = fmt.Errorf("usage: view create|show ...")
		}
	case "row":
		switch at(0) {
		case "add":
			err = repl.CommandRowAdd(at(1), at(2))
		case "del":
			err = repl.CommandRowDel(at(1), at(2))
		default:
			err = fmt.Errorf("usage: row add|del ...")
		}
	case "layout":
		err = repl.CommandLayout(at(0), at(1))
	case "presence":
		err = repl.CommandPresence(at(0))
	case "events":
		err = repl.CommandEvents()
	case "exit", "quit":
		return io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return err
}

func main() {
	var storage docsync.Storage = store.NewMemStore()
	if len(os.Args) > 1 {
		ps, err := store.NewPebbleStore(os.Args[1])
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
		defer ps.Close()
		storage = ps
	}

	space := docsync.NewSpace(
		docsync.NewClientID(),
		storage,
		docsync.SinkConfig{},
		utils.NewDefaultLogger(slog.LevelInfo),
	)
	defer space.CloseAll()

	repl := REPL{space: space}
	if err := repl.Open(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
	defer repl.Close()

	var err error
	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
		}
		err = repl.REPL()
	}
}
