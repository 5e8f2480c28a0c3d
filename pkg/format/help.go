package format

import "fmt"

// HelpGeneral lists what the bot itself can do.
func HelpGeneral(prefix, botName string) Reply {
	return Reply{
		Author: botName,
		Text:   "BotPumpkin is a custom bot for starting and stopping our game server, and for doing some other fun and useful things.",
		Fields: []Field{
			{fmt.Sprintf("`%sslap`", prefix), "Let BotPumpkin teach someone else a lesson"},
			{fmt.Sprintf("`%sserver start`", prefix), "Starts our game server"},
			{fmt.Sprintf("`%sserver stop`", prefix), "Stops our game server"},
			{fmt.Sprintf("`%shelp server`", prefix), "Displays all server commands"},
			{fmt.Sprintf("`%shelp Groovy`", prefix), "Displays commonly used commands for Groovy"},
			{fmt.Sprintf("`%shelp sesh`", prefix), "Displays commonly used commands for sesh"},
		},
	}
}

// HelpServer is the server usage block with the configured games.
func HelpServer(prefix string, games []string) Reply {
	r := ServerUsage(prefix, games)
	r.Title = "Server commands"
	return r
}

// HelpGroovy lists common commands of the Groovy music bot.
func HelpGroovy() Reply {
	return Reply{
		Author: "Groovy",
		Text: "Groovy is a bot for playing music in the voice channels. " +
			"See [here](https://groovy.bot/commands?prefix=-) for a full list of commands.",
		Fields: []Field{
			{"`-play [query]`", "Adds the song to the queue, and starts playing it if nothing is playing"},
			{"`-play`", "Starts playing the queue"},
			{"`-pause`", "Pauses the current song (saves the position in the song)"},
			{"`-stop`", "Stops the current song (doesn't save the position in the song)"},
			{"`-next`", "Skips to the next song"},
			{"`-back`", "Skips to the previous song"},
			{"`-queue`", "Displays the queue contents"},
			{"`-clear`", "Empties the queue"},
			{"`-jump [track_position]`", "Jumps to a specific point in the queue"},
			{"`-shuffle`", "Shuffles the queue"},
			{"`-move [track_position], [new_position]`", "Moves a song from one position to another in the queue"},
			{"`-saved queues`", "Displays your saved queues"},
			{"`-saved queues create [name]`", "Creates the current queue as a new saved queue"},
			{"`-saved queues load [name]`", "Loads all the songs from a saved queue into the current queue"},
			{"`-saved queues delete [name]`", "Deletes a saved queue"},
		},
	}
}

// HelpSesh lists common commands of the sesh scheduling bot.
func HelpSesh() Reply {
	return Reply{
		Author: "sesh",
		Text: "sesh is a bot for planning hangouts and running polls. " +
			"See [here](https://sesh.fyi/manual/) for a full list of commands.",
		Fields: []Field{
			{"`!create [event] [time]`", "Creates a new event with the given event description at the given time"},
			{"`!poll [name] [options]`", "Creates a new poll with the given name and options"},
			{"`!list`", "Lists all future scheduled events"},
			{"`!delete`", "Allows you to select an event to delete"},
			{"`!delete [query]`", "Searches for an event with a matching name and confirms whether to delete it"},
		},
	}
}
