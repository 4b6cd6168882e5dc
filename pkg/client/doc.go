// Package client is a Go SDK for the REST API of a TextSecure-style
// messaging server.
//
// It builds authenticated requests, encodes key material and message bodies
// the way the server expects, maps failures onto a small set of error kinds
// and implements the two-phase attachment transfer through the server's
// storage redirect.
//
// # Registering a device
//
// Registration needs no stored credentials; the number and the freshly
// generated password authenticate the confirmation itself:
//
//	c, _ := client.New("https://textsecure-service.whispersystems.org")
//	err := c.RequestVerificationCode(ctx, "+15551234567", client.TransportSMS)
//	// ... the user reads the code from the SMS ...
//	res, err := c.ConfirmCode(ctx, client.Confirmation{
//	    Number:         "+15551234567",
//	    Code:           code,
//	    Password:       password,
//	    SignalingKey:   signalingKey,
//	    RegistrationID: registrationID,
//	    SingleDevice:   true,
//	})
//
// Persist the number, res.DeviceID and the password; every later call
// reads them through a CredentialStore.
//
// # Authenticated calls
//
//	c, err := client.New(serverURL,
//	    client.WithCredentialStore(store),
//	    client.WithLogger(logger),
//	)
//	n, err := c.GetMyKeyCount(ctx)
//	keys, err := c.GetKeysForNumber(ctx, "+15557654321", client.AllDevices)
//	err = c.SendMessages(ctx, "+15557654321", msgs)
//
// # Errors
//
// Every failure from a server exchange is a *Error with a Kind and a
// sentence suitable for display:
//
//	if client.IsKind(err, client.KindRateLimited) {
//	    // back off and retry later
//	}
//
// Nothing is retried automatically.
//
// # Attachments
//
// PutAttachment and GetAttachment each perform two exchanges: the server
// hands out a storage location, then the bytes move to or from the storage
// host without credentials. Bytes are opaque; encrypt before uploading.
//
//	id, err := c.PutAttachment(ctx, ciphertext)
//	data, err := c.GetAttachment(ctx, id)
//
// # Push channel
//
// WebSocketURL returns the URL for the push connection with credentials in
// the query string. Opening the socket is left to the caller.
package client
