package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/app"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/session"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/tui"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var core *app.Core
	fxApp := fx.New(
		app.Module(app.Params{Profile: profile}),
		fx.Populate(&core),
		// The TUI owns the terminal; fx logs would corrupt it.
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(core)
	runErr := ui.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
