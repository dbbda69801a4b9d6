// Command specialists classifies requests and routes them to teams of
// specialist workers.
package main

func main() {
	Execute()
}
