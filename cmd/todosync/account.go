package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/auth"
	"github.com/todosync/todosync/internal/prefs"
	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login [email]",
	GroupID: "account",
	Short:   "Sign in so tasks sync to your account",
	Long: `Sign in with email and password. Missing values are prompted for on a
terminal; TODOSYNC_PASSWORD is read when --password is not given.

Signing in as a different user than the one this device last synced with
pushes every local task to the new account on the next sync.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email, password := credentials(cmd, args)
		if err := promptCredentials(&email, &password); err != nil {
			return err
		}
		au, err := a.authenticator(cmd.Context())
		if err != nil {
			return err
		}
		s, err := au.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		if err := signIn(a, s); err != nil {
			return err
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), s.Email)
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:     "register [email]",
	GroupID: "account",
	Short:   "Create an account and sign in",
	Args:    cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email, password := credentials(cmd, args)
		if err := promptCredentials(&email, &password); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")

		au, err := a.authenticator(cmd.Context())
		if err != nil {
			return err
		}
		s, err := au.Register(cmd.Context(), email, password, name)
		if err != nil {
			return err
		}
		if err := signIn(a, s); err != nil {
			return err
		}

		if rs, err := a.backend(cmd.Context()); err != nil {
			logs.Logger("account").Printf("Warning: profile not saved: %v", err)
		} else if ps, ok := rs.(remote.ProfileStore); ok {
			err := ps.SaveProfile(cmd.Context(), remote.Profile{UserID: s.UserID, Email: s.Email, DisplayName: s.DisplayName})
			if err != nil {
				logs.Logger("account").Printf("Warning: profile not saved: %v", err)
			}
		}

		fmt.Printf("%s Registered and signed in as %s\n", ui.RenderPass("✓"), s.Email)
		return nil
	}),
}

var resetPasswordCmd = &cobra.Command{
	Use:     "reset-password [email]",
	GroupID: "account",
	Short:   "Send a password reset email",
	Args:    cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email := a.prefs.Get().Email
		if len(args) == 1 {
			email = args[0]
		}
		if email == "" {
			return fmt.Errorf("email is required")
		}
		au, err := a.authenticator(cmd.Context())
		if err != nil {
			return err
		}
		if err := au.ResetPassword(cmd.Context(), email); err != nil {
			return err
		}
		fmt.Printf("%s Reset email sent to %s\n", ui.RenderPass("✓"), email)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Sign out; tasks stay on this device",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		au, err := a.authenticator(cmd.Context())
		if err != nil {
			// A misconfigured backend must not trap the user signed in.
			logs.Logger("account").Printf("Warning: %v", err)
			au = auth.NewLocal(a.sessions)
		}
		if err := au.Logout(cmd.Context()); err != nil {
			return err
		}
		if _, err := a.prefs.Update(func(p *prefs.Prefs) {
			p.LoggedIn = false
			p.UserID = ""
			p.Email = ""
		}); err != nil {
			return err
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
		return nil
	}),
}

func credentials(cmd *cobra.Command, args []string) (email, password string) {
	if len(args) == 1 {
		email = args[0]
	}
	password, _ = cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("TODOSYNC_PASSWORD")
	}
	return email, password
}

func signIn(a *app, s *auth.Session) error {
	_, err := a.prefs.Update(func(p *prefs.Prefs) {
		p.LoggedIn = true
		p.UserID = s.UserID
		p.Email = s.Email
	})
	return err
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().String("password", "", "Password (prompted when omitted)")
	}
	registerCmd.Flags().String("name", "", "Display name")

	rootCmd.AddCommand(loginCmd, registerCmd, resetPasswordCmd, logoutCmd)
}
