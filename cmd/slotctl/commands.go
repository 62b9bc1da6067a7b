package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/slot-reservation/internal/apiclient"
	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/lockchannel"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/reservation"
	"github.com/iliyamo/slot-reservation/internal/utils"
)

func init() {
	gridCmd.Flags().String("mode", "squad", "Team layout: solo, duo or squad")
	gridCmd.Flags().Int("capacity", 100, "Number of seats in the grid")

	tokenCmd.Flags().Uint64("user", 0, "User id to put in the subject claim")
	tokenCmd.Flags().String("role", model.RolePlayer, "Role claim: PLAYER or ADMIN")
	tokenCmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to $JWT_SECRET)")
	tokenCmd.Flags().Int("ttl", 60, "Lifetime in minutes")
	_ = tokenCmd.MarkFlagRequired("user")

	watchCmd.Flags().Uint64("match", 0, "Match id")
	_ = watchCmd.MarkFlagRequired("match")

	bookCmd.Flags().Uint64("match", 0, "Match id")
	bookCmd.Flags().StringSlice("seat", nil, "Position to book as COORD or COORD=NAME, e.g. 3A=Ghost (repeatable)")
	_ = bookCmd.MarkFlagRequired("match")
	_ = bookCmd.MarkFlagRequired("seat")

	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(bookCmd)
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the coordinate to index table of a grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("mode")
		capacity, _ := cmd.Flags().GetInt("capacity")
		mode, ok := grid.ParseMode(raw)
		if !ok {
			return fmt.Errorf("unknown mode %q", raw)
		}
		return printGrid(cmd.OutOrStdout(), mode, capacity)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetUint64("user")
		role, _ := cmd.Flags().GetString("role")
		secret, _ := cmd.Flags().GetString("secret")
		ttl, _ := cmd.Flags().GetInt("ttl")
		if secret == "" {
			return errors.New("no signing secret: pass --secret or set JWT_SECRET")
		}
		tok, err := utils.NewAccessToken(secret, uid, strings.ToUpper(role), ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a match's booked and locked positions live",
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID, _ := cmd.Flags().GetUint64("match")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := mount(ctx, matchID)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		c.OnChange(func(s reservation.State) {
			fmt.Fprintf(out, "booked=%v locked=%v\n", s.Booked(), s.Locked())
		})
		s := c.State()
		fmt.Fprintf(out, "%s (%s, %d seats)\n", s.Match().Title, s.Match().Mode, s.Match().Capacity)
		renderState(out, s)
		<-ctx.Done()
		return nil
	},
}

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Select positions, name them and submit a booking",
	Example: `  slotctl book --match 7 --seat 3A --seat 3B=Wraith
  (a position without a name takes your profile handle when it is the first one)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID, _ := cmd.Flags().GetUint64("match")
		seats, _ := cmd.Flags().GetStringSlice("seat")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := mount(ctx, matchID)
		if err != nil {
			return err
		}
		defer c.Close()

		g := c.State().Match().GroupSize()
		for _, s := range seats {
			raw, name, named := strings.Cut(s, "=")
			coord, err := grid.ParseCoordinate(raw, g)
			if err != nil {
				return err
			}
			if err := c.Select(coord); err != nil {
				return fmt.Errorf("select %s: %w", coord, err)
			}
			if named {
				if err := c.SetName(coord, name); err != nil {
					return fmt.Errorf("name %s: %w", coord, err)
				}
			}
		}

		receipt, err := c.Submit(ctx)
		var conflict *reservation.ConflictError
		if errors.As(err, &conflict) {
			renderState(cmd.OutOrStdout(), c.State())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "booking %d confirmed: indexes %v, charged %d\n", receipt.BookingID, receipt.Indexes, receipt.TotalAmount)
		return nil
	},
}

// mount opens a reservation session against the server for matchID.
func mount(ctx context.Context, matchID uint64) (*reservation.Controller, error) {
	if token == "" {
		return nil, errors.New("no token: pass --token or set SLOT_TOKEN")
	}
	api := apiclient.New(host, token)
	m, err := api.Match(ctx, matchID)
	if err != nil {
		return nil, err
	}
	url, err := api.LocksURL(matchID)
	if err != nil {
		return nil, err
	}
	locks, err := lockchannel.Dial(ctx, lockchannel.Options{URL: url, Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to open lock channel: %w", err)
	}
	c, err := reservation.NewController(ctx, m, reservation.Deps{
		Snapshot: api,
		Commit:   api,
		Profile:  api,
		Balance:  api,
		Locks:    locks,
	})
	if err != nil {
		_ = locks.Close()
		return nil, err
	}
	return c, nil
}

func printGrid(w io.Writer, mode grid.Mode, capacity int) error {
	g := mode.GroupSize()
	if capacity < 1 {
		return fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	fmt.Fprintf(w, "mode=%s group_size=%d teams=%d\n", mode, g, grid.Teams(capacity, g))
	for idx := 1; grid.InGrid(idx, capacity); idx++ {
		c := grid.Decode(idx, g)
		fmt.Fprintf(w, "%4d  %-4s %s\n", idx, c, grid.SubTeamKey(mode, c.Letter))
	}
	return nil
}

// renderState prints one line per team: '.' free, 'x' booked, 'L' locked by
// another session, '*' selected here.
func renderState(w io.Writer, s reservation.State) {
	m := s.Match()
	g := m.GroupSize()
	var b strings.Builder
	team := 0
	for idx := 1; grid.InGrid(idx, m.Capacity); idx++ {
		if c := grid.Decode(idx, g); c.Team != team {
			if team > 0 {
				fmt.Fprintln(w, b.String())
				b.Reset()
			}
			team = c.Team
			fmt.Fprintf(&b, "%3d ", team)
		}
		switch s.SeatByIndex(idx) {
		case reservation.SeatBooked:
			b.WriteByte('x')
		case reservation.SeatLockedByOther:
			b.WriteByte('L')
		case reservation.SeatSelectedByMe:
			b.WriteByte('*')
		default:
			b.WriteByte('.')
		}
	}
	if team > 0 {
		fmt.Fprintln(w, b.String())
	}
}
