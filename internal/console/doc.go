// Package console is the operator's terminal front end.
//
// It has two halves. The Renderer is a session.Sink that prints every core
// event as one timestamped, coloured line: sent and received messages,
// acknowledgments, failures and session changes. The Console is the REPL
// that turns typed commands into session manager calls:
//
//	login [user] [host] [port]   log in; prompts for missing user and password
//	logout                       end the session
//	pub <topic> <payload...>     publish; payload is the rest of the line
//	sub <pattern>                subscribe
//	status                       session snapshot
//	pending                      publishes awaiting acknowledgment
//	history [n]                  last n journalled deliveries
//	clear                        clear the screen
//	help                         command list
//	quit                         log out and exit
//
// Both halves write through one synchronised writer, so event lines never
// tear REPL output.
package console
