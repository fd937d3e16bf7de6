// Command coordinatord is the coordinator daemon's CLI surface: a thin
// cobra front end over the core packages, exposed as a subcommand
// tree (start/stop, locks, queue, cleanup, plan).
package main

func main() {
	Execute()
}
