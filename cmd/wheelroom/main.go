// wheelroom is the terminal client: create or join a room, add choices, and
// spin the shared wheel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/choices"
	"github.com/wheelroom/wheelroom/internal/identity"
	"github.com/wheelroom/wheelroom/internal/localstate"
	"github.com/wheelroom/wheelroom/internal/room"
	"github.com/wheelroom/wheelroom/internal/session"
	"github.com/wheelroom/wheelroom/internal/store/wsstore"
	"github.com/wheelroom/wheelroom/internal/wheel"
)

const frameInterval = 50 * time.Millisecond

func main() {
	hubURL := flag.String("hub", envOr("WHEEL_HUB", "ws://localhost:8080/ws"), "hub websocket URL")
	roomCode := flag.String("room", envOr("WHEEL_ROOM", ""), "room code to join (omit with -create)")
	create := flag.Bool("create", false, "create a new room instead of joining")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := run(*hubURL, *roomCode, *create); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(hubURL, roomCode string, create bool) error {
	ctx := context.Background()

	statePath, err := localstate.DefaultPath()
	if err != nil {
		return err
	}
	state, err := localstate.Open(statePath)
	if err != nil {
		return err
	}
	defer state.Close()

	me, err := identity.Load(state)
	if err != nil {
		return err
	}

	st, err := wsstore.Dial(ctx, hubURL)
	if err != nil {
		return err
	}
	defer st.Close()

	dir := room.NewDirectory(st, me, nil)
	switch {
	case create:
		roomCode, err = dir.CreateRoom(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("created room %s — share this code\n", roomCode)
	case roomCode != "":
		roomCode, err = dir.JoinRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		fmt.Printf("joined room %s\n", roomCode)
	default:
		return errors.New("pass -room CODE to join or -create to start a room")
	}

	sess, err := session.Enter(ctx, session.Options{
		Store:    st,
		State:    state,
		Code:     roomCode,
		Identity: me,
		OnPresence: func(count int) {
			fmt.Printf("· %d here\n", count)
		},
		OnChoices: func(list []room.Choice) {
			fmt.Printf("· wheel now has %d choice(s)\n", len(list))
		},
		OnSpinStarted: func(replay bool) {
			if replay {
				fmt.Println("· someone spun the wheel!")
			}
		},
		OnResult: func(game string) {
			fmt.Printf("\n★ winner: %s ★\n", game)
		},
	})
	if err != nil {
		return err
	}
	defer sess.Leave(ctx)

	// Frame loop: drives in-flight animations and paints the wheel while it
	// spins.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		frames := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rotation, spinning := sess.Spin.Advance(ctx)
				if !spinning {
					frames = 0
					continue
				}
				frames++
				if frames%10 == 0 {
					fmt.Print(render(sess, rotation))
				}
			}
		}
	}()

	fmt.Println("commands: add <name> · spin · list · who · leave")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "add":
			if err := sess.Choices.AddChoice(ctx, rest); err != nil {
				fmt.Println("cannot add:", reason(err))
				continue
			}
			fmt.Printf("added (%d suggestion(s) left)\n", sess.Quota.Remaining())
		case "spin":
			if !sess.Choices.CanSpin() {
				fmt.Printf("need at least %d choices to spin\n", choices.MinToSpin)
				continue
			}
			if err := sess.Spin.InitiateSpin(ctx); err != nil {
				fmt.Println("spin failed:", err)
			}
		case "list":
			fmt.Print(render(sess, sess.Spin.Rotation()))
		case "who":
			fmt.Printf("%d participant(s) here\n", sess.Presence.LiveCount())
		case "leave", "quit", "exit":
			return nil
		case "":
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

func render(sess *session.Session, rotation float64) string {
	list := sess.Choices.Choices()
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.Name
	}
	return wheel.Frame(names, rotation)
}

func reason(err error) string {
	switch {
	case errors.Is(err, choices.ErrEmptyInput):
		return "enter a name first"
	case errors.Is(err, choices.ErrQuotaExceeded):
		return "you have used all your suggestions for this room"
	case errors.Is(err, choices.ErrTooLong):
		return fmt.Sprintf("names are limited to %d characters", choices.MaxNameLength)
	case errors.Is(err, choices.ErrDuplicateName):
		return "that choice is already on the wheel"
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
