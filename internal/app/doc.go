// Package app wires podauth together from its configuration.
//
// NewApplication loads the configuration, initializes logging and builds the
// services every command needs: the durable store, the discovery and
// registration caches, the OAuth client, the credential manager with its
// local authentication window, the token providers and the authenticating
// transport.
//
//	application, err := app.NewApplication(app.NewConfig(false, "", os.Stderr))
//	if err != nil {
//		return err
//	}
//	defer application.Close()
//
//	resp, err := application.HTTPClient().Get("https://pod.example/private/")
package app
