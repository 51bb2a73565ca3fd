package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/vault"
)

// app ties the API client to the in-process credential vault. The vault
// lives as long as the process, so a session command keeps the credential
// for up to an hour while one-shot commands prompt every run.
type app struct {
	client *CertmailClient
	vault  *vault.Vault
	in     *bufio.Reader
	out    io.Writer
}

// login prompts for a credential, stores it in the vault and has the server
// verify it. A rejected credential is not kept.
func (a *app) login(ctx context.Context) (*cdomain.Credential, error) {
	email, err := readLine(a.in, "Sender email", a.out)
	if err != nil {
		return nil, err
	}
	secret, err := readSecret(a.in, a.out)
	if err != nil {
		return nil, err
	}
	if err := a.vault.Store(ctx, email, secret); err != nil {
		return nil, err
	}
	cred, ok := a.vault.Retrieve(ctx)
	if !ok {
		return nil, errors.New("credential could not be read back from the vault")
	}
	if err := a.client.Validate(ctx, Credentials{Email: cred.Address, AppPassword: cred.Secret}); err != nil {
		a.vault.Clear(ctx)
		return nil, err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", cred.Address)
	return cred, nil
}

func (a *app) credential(ctx context.Context) (*cdomain.Credential, error) {
	if cred, ok := a.vault.Retrieve(ctx); ok {
		return cred, nil
	}
	return a.login(ctx)
}

// send submits a batch. Direct delivery attaches the vault credential,
// prompting when absent; hosted delivery attaches it only when one is
// already stored, which lets the server fail over to direct submission. A
// credentialRequired answer clears the vault and prompts once more.
func (a *app) send(ctx context.Context, recipients []RecipientPayload, provider, mode string) (*SendResponse, error) {
	req := SendRequest{Recipients: recipients, Provider: provider, SendingMode: mode}
	switch provider {
	case "direct":
		cred, err := a.credential(ctx)
		if err != nil {
			return nil, err
		}
		req.Credentials = &Credentials{Email: cred.Address, AppPassword: cred.Secret}
	default:
		if cred, ok := a.vault.Retrieve(ctx); ok {
			req.Credentials = &Credentials{Email: cred.Address, AppPassword: cred.Secret}
		}
	}

	resp, err := a.client.Send(ctx, req)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.CredentialRequired {
		return resp, err
	}
	a.vault.Clear(ctx)
	fmt.Fprintln(a.out, "The server needs your mail credential.")
	cred, err := a.login(ctx)
	if err != nil {
		return nil, err
	}
	req.Credentials = &Credentials{Email: cred.Address, AppPassword: cred.Secret}
	return a.client.Send(ctx, req)
}

func (a *app) logout(ctx context.Context) {
	a.vault.Clear(ctx)
	fmt.Fprintln(a.out, "Signed out")
}

func printSummary(w io.Writer, resp *SendResponse) {
	fmt.Fprintf(w, "Batch %s via %s (%s): %d sent, %d failed\n",
		resp.BatchID, resp.Provider, resp.Mode, resp.SentCount, len(resp.Errors))
	if len(resp.Errors) == 0 {
		return
	}
	fmt.Fprintf(w, "%-40s %s\n", "EMAIL", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, f := range resp.Errors {
		fmt.Fprintf(w, "%-40s %s\n", f.Email, f.Error)
	}
}

// runSession reads commands until quit or EOF, keeping the vault alive
// between them.
func (a *app) runSession(ctx context.Context, provider, mode string) error {
	a.vault.Subscribe(func() { fmt.Fprintln(a.out, "(stored credential cleared)") })
	fmt.Fprintln(a.out, "Commands: login, send <roster.csv> <images-dir> [mode], status, logout, quit")
	for {
		line, err := readLine(a.in, "certmail", a.out)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit":
			return nil
		case "login":
			if _, err := a.login(ctx); err != nil {
				fmt.Fprintf(a.out, "login failed: %v\n", err)
			}
		case "logout":
			a.logout(ctx)
		case "status":
			if cred, ok := a.vault.Retrieve(ctx); ok {
				fmt.Fprintf(a.out, "Signed in as %s since %s\n", cred.Address, cred.CapturedAt.Format("15:04:05"))
			} else {
				fmt.Fprintln(a.out, "Not signed in")
			}
		case "send":
			if len(args) < 3 {
				fmt.Fprintln(a.out, "usage: send <roster.csv> <images-dir> [sequential|pooled]")
				continue
			}
			m := mode
			if len(args) > 3 {
				m = args[3]
			}
			recipients, err := loadRosterFile(args[1], args[2])
			if err != nil {
				fmt.Fprintf(a.out, "roster: %v\n", err)
				continue
			}
			resp, err := a.send(ctx, recipients, provider, m)
			if err != nil {
				fmt.Fprintf(a.out, "send failed: %v\n", err)
				continue
			}
			printSummary(a.out, resp)
		default:
			fmt.Fprintf(a.out, "unknown command %q\n", args[0])
		}
	}
}
