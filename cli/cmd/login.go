// ABOUTME: Login command for the portalctl CLI
// ABOUTME: Walks an owner through the SMS login with huh prompts or flags

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/cli/internal/client"
	"github.com/markalston/portal-gateway/cli/internal/styles"
)

// maxCodeAttempts is how many SMS codes the command submits before giving up
const maxCodeAttempts = 3

var (
	loginOwner string
	loginPhone string
	loginCode  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log an owner into the portal via SMS code",
	Long: `Start a portal login for an owner, choose the phone that receives the SMS
code, and submit the code. Missing values are prompted for interactively.

Exit codes:
  0 - Session captured and stored by the gateway
  1 - Login rejected (wrong codes, timeout, portal block)
  2 - Error (connectivity, invalid input)`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		p := &huhPrompter{owner: loginOwner, phone: loginPhone, code: loginCode}
		runWithSignals(func(ctx context.Context) int { return runLogin(ctx, os.Stdout, p) })
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginOwner, "owner", "", "Owner tax identifier")
	loginCmd.Flags().StringVar(&loginPhone, "phone", "", "Phone option to receive the code, as listed by the portal")
	loginCmd.Flags().StringVar(&loginCode, "code", "", "SMS code (prompted when omitted)")
}

// prompter collects the values the login flow needs from the operator
type prompter interface {
	Owner() (string, error)
	Phone(options []string) (string, error)
	// Code is asked again after a rejected code; attempt starts at 1
	Code(attempt int) (string, error)
}

// runLogin drives the login and returns exit code
func runLogin(ctx context.Context, w io.Writer, p prompter) int {
	owner, err := p.Owner()
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	session, err := newClient().StartLogin(ctx, owner)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return loginExitCode(err)
	}
	fmt.Fprintln(w, styles.Subtitle.Render("Transaction "+session.TransactionID))

	phone, err := p.Phone(session.PhoneOptions)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	if err := session.SelectPhone(ctx, phone); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return loginExitCode(err)
	}
	fmt.Fprintf(w, "SMS code sent to %s\n", phone)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := p.Code(attempt)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return 2
		}

		resp, err := session.VerifyCode(ctx, code)
		if err == nil {
			fmt.Fprintln(w, styles.StatusOK.Render("Logged in"))
			if s := resp.TokenSummary; s != nil {
				fmt.Fprintln(w, styles.Row("Refresh:", yesNo(s.HasRefreshToken)))
				fmt.Fprintln(w, styles.Row("Device keys:", fmt.Sprintf("%d", s.DeviceKeyCount)))
			}
			return 0
		}
		if client.StatusOf(err) != http.StatusBadRequest {
			fmt.Fprintf(w, "Error: %v\n", err)
			return loginExitCode(err)
		}
		fmt.Fprintln(w, styles.StatusWarning.Render("Code rejected: "+strings.TrimPrefix(err.Error(), "backend error: ")))
	}

	fmt.Fprintln(w, styles.StatusCritical.Render("Too many rejected codes"))
	return 1
}

// loginExitCode separates gateway rejections from transport failures
func loginExitCode(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status != http.StatusBadRequest {
		return 1
	}
	return 2
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// huhPrompter asks on the terminal for anything not given as a flag
type huhPrompter struct {
	owner string
	phone string
	code  string
}

func (h *huhPrompter) Owner() (string, error) {
	if h.owner != "" {
		return h.owner, nil
	}
	input := huh.NewInput().
		Title("Owner tax identifier").
		Placeholder("000.000.000-00").
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		}).
		Value(&h.owner)
	return h.owner, ask(input)
}

func (h *huhPrompter) Phone(options []string) (string, error) {
	if h.phone != "" {
		return h.phone, nil
	}
	if len(options) == 1 {
		return options[0], nil
	}
	var choice string
	sel := huh.NewSelect[string]().
		Title("Send the code to").
		Options(huh.NewOptions(options...)...).
		Value(&choice)
	return choice, ask(sel)
}

func (h *huhPrompter) Code(attempt int) (string, error) {
	if attempt == 1 && h.code != "" {
		return h.code, nil
	}
	var code string
	title := "SMS code"
	if attempt > 1 {
		title = fmt.Sprintf("SMS code (attempt %d of %d)", attempt, maxCodeAttempts)
	}
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&code)
	return code, ask(input)
}

func ask(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithTheme(styles.Theme()).Run()
}
