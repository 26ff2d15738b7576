package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-jwt-secret")

func TestIssueAndParseToken(t *testing.T) {
	raw, issued, err := IssueToken(testSecret, "user-1", "company-9", RoleCompanyAdmin, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID, "token must carry a tid")

	claims, err := ParseToken(testSecret, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "company-9", claims.CompanyID)
	assert.Equal(t, RoleCompanyAdmin, claims.Role)
	assert.Equal(t, issued.ID, claims.ID)
}

func TestParseToken_WrongSecret(t *testing.T) {
	raw, _, err := IssueToken(testSecret, "user-1", "", RoleUser, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("other-secret"), raw)
	require.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	raw, _, err := IssueToken(testSecret, "user-1", "", RoleUser, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(testSecret, raw)
	require.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken(testSecret, "not.a.token")
	require.Error(t, err)
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, RoleSuperadmin.AtLeast(RoleCompanyAdmin))
	assert.True(t, RoleCompanyAdmin.AtLeast(RoleCompanyAdmin))
	assert.False(t, RoleUser.AtLeast(RoleCompanyAdmin))
	assert.False(t, Role("intruder").AtLeast(RoleUser))
}
