package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_Lookup(t *testing.T) {
	dir := DefaultDirectory()

	p, err := dir.Lookup("someone@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, ClassConsumer, p.Class)
	assert.Equal(t, "smtp.gmail.com:587", p.Addr())

	p, err = dir.Lookup("student@cs.college.edu.in")
	require.NoError(t, err)
	assert.Equal(t, ClassInstitutional, p.Class)

	_, err = dir.Lookup("user@notgmail.org")
	var ue ErrUnsupportedDomain
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "notgmail.org", ue.Domain)
}

func TestDirectory_ExactBeatsSuffixAndRegisterReplaces(t *testing.T) {
	dir := DefaultDirectory()
	dir.Register(Provider{Name: "iitb", Pattern: "iitb.edu.in", Class: ClassInstitutional, Host: "smtp-auth.iitb.ac.in", Port: 465, Security: SecurityImplicit})

	p, err := dir.Lookup("a@iitb.edu.in")
	require.NoError(t, err)
	assert.Equal(t, "iitb", p.Name)

	dir.Register(Provider{Name: "iitb-v2", Pattern: "IITB.edu.in", Class: ClassInstitutional, Host: "mx", Port: 25})
	p, err = dir.Lookup("a@iitb.edu.in")
	require.NoError(t, err)
	assert.Equal(t, "iitb-v2", p.Name)
	assert.Len(t, dir.List(), 3)
}

func TestProvider_AuthHintByClass(t *testing.T) {
	consumer := Provider{Class: ClassConsumer}.AuthHint()
	inst := Provider{Class: ClassInstitutional}.AuthHint()
	assert.Greater(t, len(inst), len(consumer))
	assert.Contains(t, inst, "IT administrator")
}
