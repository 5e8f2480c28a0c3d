// Package format renders bot replies. Everything here is pure so the same
// text can be sent to Discord as an embed or printed in tests.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/bombom/pumpkin/pkg/cloud"
	"github.com/bombom/pumpkin/pkg/server"
)

// Field is a titled block inside a reply.
type Field struct {
	Name  string
	Value string
}

// Reply is a chat response. Discord renders it as an embed.
type Reply struct {
	Title  string
	Text   string
	Fields []Field
	Author string

	// Mention is sent as plain content ahead of the embed, e.g. "@here".
	Mention string
}

// Text returns a reply with only a description.
func Text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

func (r Reply) String() string {
	var b strings.Builder
	if r.Mention != "" {
		b.WriteString(r.Mention)
		b.WriteString(" ")
	}
	if r.Author != "" {
		fmt.Fprintf(&b, "[%s] ", r.Author)
	}
	if r.Title != "" {
		b.WriteString(r.Title)
		b.WriteString("\n")
	}
	b.WriteString(r.Text)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	return b.String()
}

// stateColor picks the circle emoji shown next to the instance state.
func stateColor(s cloud.State) string {
	switch s {
	case cloud.StateRunning:
		return "green"
	case cloud.StateStopped:
		return "red"
	case cloud.StatePending:
		return "yellow"
	case cloud.StateStopping:
		return "orange"
	default:
		return "black"
	}
}

// Status renders a snapshot. Admins get the full instance description;
// everyone else gets a one-line summary.
func Status(snap server.Snapshot, admin bool, loc *time.Location) Reply {
	if loc == nil {
		loc = time.UTC
	}
	inst := snap.Instance
	if !admin {
		return Reply{Text: summary(snap)}
	}

	r := Reply{Title: "Status of " + inst.ImageID}
	state := string(inst.State)
	if state != "" {
		state = strings.ToUpper(state[:1]) + state[1:]
	}
	r.Fields = append(r.Fields, Field{"State", fmt.Sprintf(":%s_circle: %s", stateColor(inst.State), state)})
	r.Fields = append(r.Fields, Field{"Instance", fmt.Sprintf("`%s` (%s, %s)", inst.InstanceID, inst.Region, inst.InstanceType)})

	if inst.State == cloud.StateRunning {
		game := snap.Game
		if game == "" {
			game = ":warning: None"
		}
		r.Fields = append(r.Fields, Field{"Current game", game})
		if snap.Game != "" {
			if snap.Ping != "" {
				r.Fields = append(r.Fields, Field{"Game server ping", snap.Ping})
			}
			r.Fields = append(r.Fields, Field{"Current players", fmt.Sprint(snap.Players)})
		}
		r.Fields = append(r.Fields, Field{"IP address", fmt.Sprintf("`%s`", inst.PublicIP)})
		r.Fields = append(r.Fields, Field{"DNS name", fmt.Sprintf("`%s`", inst.PublicDNS)})
	}
	if !inst.LaunchTime.IsZero() {
		r.Fields = append(r.Fields, Field{"Last launch time", inst.LaunchTime.In(loc).Format("2006-01-02 15:04:05 MST")})
	}
	if !snap.Enabled {
		r.Fields = append(r.Fields, Field{"Server commands", "Disabled for maintenance"})
	}
	return r
}

func summary(snap server.Snapshot) string {
	inst := snap.Instance
	var word string
	switch inst.State {
	case cloud.StateRunning:
		word = "online"
	case cloud.StatePending:
		word = "starting"
	case cloud.StateStopping, cloud.StateShuttingDown:
		word = "stopping"
	default:
		word = "offline"
	}

	msg := "The server is currently " + word
	if inst.State != cloud.StateRunning || snap.Game == "" {
		return msg + "."
	}
	verb, noun := "are", "people"
	if snap.Players == 1 {
		verb, noun = "is", "person"
	}
	return fmt.Sprintf("%s running the game %s and there %s %d %s playing. Connect to `%s:%d` to join the fun!",
		msg, snap.Game, verb, snap.Players, noun, inst.PublicIP, snap.Port)
}
