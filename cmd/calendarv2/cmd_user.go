/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/models"
)

var (
	userEmail    string
	userPassword string
	userRole     string
)

var userCreateCmd = &cobra.Command{
	Use:   "user-create",
	Short: "Create a user for token authentication",
	Long: `Create a user account. Users only matter when CALENDAR_JWT_SIGNING_KEY
is set; without it the API runs open and never checks credentials.

Examples:
  # Create an admin (prompts for the password)
  calendarv2 user-create --email admin@example.com

  # Create a non-admin user
  calendarv2 user-create --email viewer@example.com --role user
`,
	RunE: runUserCreate,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")
	userCreateCmd.Flags().StringVar(&userRole, "role", string(models.RoleAdmin), "Role: admin or user")
	_ = userCreateCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(userCreateCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	role := models.RoleName(userRole)
	if role != models.RoleAdmin && role != models.RoleUser {
		return fmt.Errorf("unknown role %q, expected admin or user", userRole)
	}

	password := userPassword
	if password == "" {
		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    userEmail,
		Password: string(hash),
		Role:     role,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	logger.Info().Str("email", user.Email).Str("role", string(user.Role)).Msg("user created")
	return nil
}
