// Package console implements the interactive command console of the
// Halyard package manager.
//
// The console host owns a single scripting session and runs every
// command, package setup script, and completion query through one
// serialized executor, so at most one piece of script code touches the
// session at a time.
//
// # Quick Start
//
// Build a host from its collaborators and initialize it before the
// first command:
//
//	host, err := console.New(console.Config{
//	    Store:   store,
//	    Events:  store,
//	    Sources: registry,
//	    Factory: func(out io.Writer) (*scripting.Session, error) {
//	        return scripting.NewSession(scripting.WithOutput(out))
//	    },
//	    Output: os.Stdout,
//	    Banner: "Halyard console",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//
//	if err := host.Initialize(ctx, true); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    fmt.Print(host.Prompt())
//	    line := readLine()
//	    if _, err := host.Execute(ctx, line); err != nil {
//	        fmt.Println(err)
//	    }
//	}
//
// # Multi-line Input
//
// Execute buffers lines that open a construct without closing it. A
// line that leaves the chunk syntactically unfinished returns with
// dispatched=false and the prompt switches to the continuation form
// until a later line completes the chunk:
//
//	PM> function greet(name)
//	>>   print("hello " .. name)
//	>> end
//	PM> greet("world")
//	hello world
//
// Abort discards the pending buffer and cancels the running command,
// which is how an interrupt key is wired.
//
// # Lifecycle
//
// A host moves from uninitialized through initializing to ready. If
// session creation fails the host lands in a terminal failed state:
// commands return ErrInitFailed and only Close remains useful. Calling
// Initialize on a ready host prints the banner again and changes
// nothing else.
//
// # Workspace Tracking
//
// When wired to a workspace notifier, the host follows lifecycle
// events: opening a workspace points the session's working directory
// at the workspace root, picks a default project, and triggers package
// setup scripts; removing or renaming the default project reconciles
// the selection against the remaining projects.
package console
