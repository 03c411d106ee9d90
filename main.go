// The main package for the scraper executable.
package main

import "github.com/JakeFAU/site-scraper/cmd"

func main() {
	cmd.Execute()
}
