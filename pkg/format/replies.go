package format

import (
	"fmt"
	"strings"

	"github.com/bombom/pumpkin/pkg/cloud"
	"github.com/bombom/pumpkin/pkg/server"
)

const (
	MsgBusy         = "Unable to run this command until the server has finished starting or stopping."
	MsgCloudFailure = "Sorry, I could not reach the server. Please try again later."
	MsgStarting     = "Starting the server..."
	MsgStopping     = "Stopping the server..."
	MsgChanging     = "Changing the game running on the server..."
	MsgNotRunning   = "The game cannot be changed unless the server is running."

	MsgAlreadyRunning = "The server is already running."
	MsgAlreadyStopped = "The server is already stopped."

	MsgDisabled        = "Server commands have been temporarily disabled to allow for server maintenance."
	MsgAlreadyDisabled = "Server commands are already disabled for maintenance."
	MsgEnabled         = "Server maintenance has finished and the server is ready for games again!"
	MsgAlreadyEnabled  = "Server commands aren't currently disabled for maintenance."
)

// Maintenance is the reply for lifecycle commands while the guard is disabled.
func Maintenance(prefix, command string) Reply {
	return Text("Unable to run `%s%s` as the server is currently undergoing maintenance. Please try again later.", prefix, command)
}

// UnknownGame is the reply for a game missing from the configuration.
func UnknownGame(game string) Reply {
	return Text("The game _%s_ isn't setup to run on the server.", game)
}

// MissingGame asks for a game name, using the first configured game as the example.
func MissingGame(prefix, command, action string, games []string) Reply {
	example := "<game>"
	if len(games) > 0 {
		example = games[0]
	}
	return Text("You must specify which game you wish to %s.\nFor example: `%s%s %s`", action, prefix, command, example)
}

// PermissionDenied names the role a command needs.
func PermissionDenied(role string) Reply {
	return Text("You must have the %s role to use this command.", role)
}

// WrongChannel points the user at the command channel.
func WrongChannel(channel string) Reply {
	return Text("Server commands can only be used in the #%s channel.", channel)
}

// SameGame is the reply when asked to change to the game already running.
func SameGame(game string) Reply {
	return Text("The server is already running the game _%s_.", game)
}

// UnexpectedState reports an instance caught mid-transition outside the bot.
func UnexpectedState(state cloud.State) Reply {
	return Text("The server is currently %s. Please try again in a moment.", state)
}

// Reminder nags about a running server nobody plays on.
func Reminder(prefix, game string) Reply {
	r := Text("The server is running, but it looks like no one is playing %s anymore. "+
		"Please run `%sserver stop` to stop the server if you're finished playing!", game, prefix)
	r.Mention = "@here"
	return r
}

// maxEmbedText is Discord's limit on an embed description.
const maxEmbedText = 2048

// OwnerError is the direct message sent to the bot owner when a command
// fails unexpectedly.
func OwnerError(prefix, command string, err error) Reply {
	text := fmt.Sprintf("Unhandled error in `%s%s`:\n```\n%v\n```", prefix, command, err)
	if len(text) > maxEmbedText {
		head := fmt.Sprintf("Unhandled error in `%s%s`:\n```\n", prefix, command)
		detail := fmt.Sprint(err)
		keep := maxEmbedText - len(head) - len("...\n```")
		if keep < 0 {
			keep = 0
		}
		if keep < len(detail) {
			detail = detail[:keep]
		}
		text = head + detail + "...\n```"
	}
	return Reply{Title: ":x: Error", Text: text}
}

// FollowUp renders the completion of a background transition.
func FollowUp(ev server.Event) Reply {
	switch ev.Kind {
	case server.EventStarted:
		if ev.Unreachable {
			return Text("The server is now running, but the game was unable to be reached, so something may have gone wrong. "+
				"Try connecting to `%s` and contact an admin if you're unable to connect.", ev.Address)
		}
		return Text("The server is now running. Connect to `%s` to join the fun!", ev.Address)
	case server.EventChanged:
		if ev.Unreachable {
			return Text("The game running on the server has been changed, but was unable to be reached, so something may have gone wrong. "+
				"Try connecting to `%s` and contact an admin if you're unable to connect.", ev.Address)
		}
		return Text("The game running on the server has been changed. Connect to `%s` to join the fun!", ev.Address)
	case server.EventStopped:
		return Text("The server has been stopped. Thanks for playing!")
	default:
		return Text(MsgCloudFailure)
	}
}

// ServerUsage lists the server sub-commands.
func ServerUsage(prefix string, games []string) Reply {
	r := Reply{Text: "Manage the game server. Available games: " + gameList(games)}
	r.Fields = []Field{
		{fmt.Sprintf("`%sserver start <game>`", prefix), "Starts the server running the given game"},
		{fmt.Sprintf("`%sserver stop`", prefix), "Stops the server"},
		{fmt.Sprintf("`%sserver change <game>`", prefix), "Switches the game running on the server"},
		{fmt.Sprintf("`%sserver status`", prefix), "Shows whether the server is running and who is playing"},
		{fmt.Sprintf("`%sserver disable`", prefix), "Disables server commands for maintenance (admin)"},
		{fmt.Sprintf("`%sserver enable`", prefix), "Re-enables server commands after maintenance (admin)"},
	}
	return r
}

func gameList(games []string) string {
	if len(games) == 0 {
		return "none"
	}
	quoted := make([]string, len(games))
	for i, g := range games {
		quoted[i] = "_" + g + "_"
	}
	return strings.Join(quoted, ", ")
}
