package stories

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"telegram-story-bot/internal/logging"
)

var errSignUpNotSupported = errors.New("account does not exist, sign up is not supported")

// terminalAuth drives the login flow from stdin. The 2FA password is read
// without echo.
type terminalAuth struct {
	phone        string
	in           *bufio.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
}

func newTerminalAuth(phone string) terminalAuth {
	return terminalAuth{
		phone: phone,
		in:    bufio.NewReader(os.Stdin),
		out:   os.Stdout,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

func (a terminalAuth) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a terminalAuth) Phone(ctx context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.prompt("Phone number: ")
}

func (a terminalAuth) Password(ctx context.Context) (string, error) {
	fmt.Fprint(a.out, "2FA password: ")
	pw, err := a.readPassword()
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(pw)), nil
}

func (a terminalAuth) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	return a.prompt("Login code: ")
}

func (a terminalAuth) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return errSignUpNotSupported
}

func (a terminalAuth) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errSignUpNotSupported
}

// Authenticate makes sure the user session is logged in. Without a stored
// session it runs the interactive code login, which needs a terminal.
func Authenticate(ctx context.Context, client *telegram.Client, phone string) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ErrNotAuthorized
	}
	logging.Log.Info().Str("event", "user_login").Msg("user session not authorized, starting login")
	flow := auth.NewFlow(newTerminalAuth(phone), auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}
