package auth_test

import (
	"context"
	"io/fs"
	"testing"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fixtureFile []struct {
	Model string              `yaml:"model"`
	Rows  []map[string]string `yaml:"rows"`
}

func TestPrivilegeFixturesMatchTaxonomy(t *testing.T) {
	data, err := fs.ReadFile(auth.GetFixturesFS(), "data/fixtures/privileges.yml")
	require.NoError(t, err)

	var fixtures fixtureFile
	require.NoError(t, yaml.Unmarshal(data, &fixtures))
	require.Len(t, fixtures, 1)
	assert.Equal(t, "Privilege", fixtures[0].Model)

	seen := map[string]bool{}
	ids := map[string]bool{}
	for _, row := range fixtures[0].Rows {
		req := auth.NewRequirement(auth.Module(row["module"]), auth.SubModule(row["sub_module"]), auth.PrivilegeType(row["privilege_type"]))
		require.NoError(t, req.Validate(), "fixture row %v", row)

		_, err := uuid.Parse(row["id"])
		require.NoError(t, err)

		assert.False(t, seen[req.Authority()], "duplicate fixture %s", req.Authority())
		assert.False(t, ids[row["id"]], "duplicate id %s", row["id"])
		seen[req.Authority()] = true
		ids[row["id"]] = true
	}

	for _, req := range auth.AllRequirements() {
		assert.True(t, seen[req.Authority()], "missing fixture %s", req.Authority())
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	_, db := newTestRepo(t)

	applied, err := auth.Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
