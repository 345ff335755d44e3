package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/pkg/app"
	"github.com/spf13/cobra"
)

func fieldsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Manage user-supplied provider fields",
	}

	var (
		providerID string
		key        string
		roleName   string
		value      string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a provider field value, prompting for it when --value is absent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLoaded(cmd, func(ctx context.Context, loaded *app.Loaded) error {
				appCtx := loaded.App.Context()
				reg, err := core.Service[*provider.Registry](appCtx, "provider.registry")
				if err != nil {
					return err
				}
				st, err := core.Service[store.Store](appCtx, store.ServiceName)
				if err != nil {
					return err
				}
				target, err := resolveField(ctx, reg, st, providerID, key, roleName)
				if err != nil {
					return err
				}
				if value == "" {
					if value, err = promptField(target.field); err != nil {
						return err
					}
				}
				value = strings.TrimSpace(value)
				if key == chat.AuthTokenField {
					value = chat.NormalizeToken(value)
				}
				if value == "" {
					return chat.ErrEmptyField
				}
				if err := st.SetUserField(ctx, providerID, key, target.roleID, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s for %s\n", key, providerID)
				return nil
			})
		},
	}
	set.Flags().StringVarP(&providerID, "provider", "p", "", "Provider id")
	set.Flags().StringVarP(&key, "key", "k", chat.AuthTokenField, "Field key")
	set.Flags().StringVarP(&roleName, "role", "r", "", "Role name, for role-scoped fields")
	set.Flags().StringVar(&value, "value", "", "Field value; prompted for when empty")
	_ = set.MarkFlagRequired("provider")

	cmd.AddCommand(set)
	return cmd
}

type fieldTarget struct {
	field  provider.UserField
	roleID *int64
}

// resolveField checks that key is declared by the provider and resolves the
// role a role-scoped field belongs to.
func resolveField(ctx context.Context, reg *provider.Registry, st store.RoleStore, providerID, key, roleName string) (fieldTarget, error) {
	desc, ok := reg.Get(providerID)
	if !ok {
		return fieldTarget{}, fmt.Errorf("unknown provider %q", providerID)
	}
	field, ok := desc.UserFields[key]
	if !ok {
		return fieldTarget{}, fmt.Errorf("provider %q declares no field %q", providerID, key)
	}
	if field.Scope != provider.ScopeRole {
		return fieldTarget{field: field}, nil
	}
	if roleName == "" {
		return fieldTarget{}, fmt.Errorf("field %q is role-scoped: --role is required", key)
	}
	role, err := st.GetRoleByName(ctx, roleName)
	if errors.Is(err, store.ErrNotFound) {
		return fieldTarget{}, fmt.Errorf("unknown role %q", roleName)
	}
	if err != nil {
		return fieldTarget{}, err
	}
	return fieldTarget{field: field, roleID: &role.ID}, nil
}

func promptField(field provider.UserField) (string, error) {
	title := field.Prompt
	if title == "" {
		title = "Value for " + field.Key
	}
	var value string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return chat.ErrEmptyField
			}
			return nil
		}).
		Value(&value).
		Run()
	return value, err
}
