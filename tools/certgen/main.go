// Package main generates a development Certificate Authority and a server
// certificate for local HTTPS, writing them under the "certs" directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinyakov/grillzstudio/internal/certgen"
)

func main() {
	var (
		dir   string
		hosts string
	)
	flag.StringVar(&dir, "dir", "certs", "output directory")
	flag.StringVar(&hosts, "hosts", "localhost,127.0.0.1", "comma-separated server hosts")
	flag.Parse()

	if err := run(dir, strings.Split(hosts, ",")); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Certificates generated into %s. Start the server with -tls-cert %s -tls-key %s\n",
		dir, filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"))
}

// run writes ca.crt/ca.key and server.crt/server.key into dir.
func run(dir string, hosts []string) error {
	caPEM, caKeyPEM, err := certgen.GenerateCA("Grillz Studio Dev CA", 10*365*24*time.Hour)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(dir, "ca", caPEM, caKeyPEM); err != nil {
		return err
	}
	caCert, caKey, err := certgen.ParseCA(caPEM, caKeyPEM)
	if err != nil {
		return err
	}

	var clean []string
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			clean = append(clean, h)
		}
	}
	certPEM, keyPEM, err := certgen.GenerateServerCertificate(clean, caCert, caKey, 365*24*time.Hour)
	if err != nil {
		return err
	}
	return certgen.WritePair(dir, "server", certPEM, keyPEM)
}
