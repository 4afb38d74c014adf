// Package client is the Go SDK for captchad.
//
// Every call returns the server's result envelope. A 400-class envelope is
// not a Go error: inspect Result.Type to see why a verification failed.
// Errors are reserved for transport failures and malformed responses.
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ch, err := c.Create(ctx)
//	// show ch.ImageURL to the user, then:
//	res, err := c.Verify(ctx, ch.ID, answer)
//	if err == nil && res.OK() {
//	    // passed
//	}
package client
