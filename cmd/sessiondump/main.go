package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"bookview/internal/cookies"
	"bookview/internal/identity"
)

// sessiondump copies the backend's cookies out of a local browser profile
// into the session store, keeping any token already saved there.
func main() {
	from := flag.String("from-browser", "chrome", "browser to read (chrome, firefox, edge, brave, ...; chrome:/path/to/Profile picks a profile)")
	forURL := flag.String("for", "http://localhost:5000", "backend URL to collect cookies for")
	out := flag.String("out", "./data/session.json", "session store to update")
	show := flag.Bool("show", false, "print cookie names and expiry")
	flag.Parse()

	cks, err := cookies.ExtractFromBrowser(*from, *forURL)
	if err != nil {
		log.Fatalf("read cookies: %v", err)
	}

	creds, err := identity.LoadCredentials(*out)
	if err != nil {
		log.Fatalf("load %s: %v", *out, err)
	}
	creds.Cookies = cks
	if err := identity.SaveCredentials(*out, creds); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}

	if *show {
		for _, c := range cks {
			exp := "session"
			if !c.Expires.IsZero() {
				exp = c.Expires.Format(time.RFC3339)
			}
			fmt.Printf("  %-32s domain=%s path=%s expires=%s\n", c.Name, c.Domain, c.Path, exp)
		}
	}
	fmt.Printf("Wrote %d cookies for %s to %s\n", len(cks), *forURL, *out)
}
