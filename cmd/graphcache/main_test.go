package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/persist/boltstore"
	"github.com/hanpama/graphcache/internal/persist/sqlitestore"
	"github.com/hanpama/graphcache/internal/record"
)

const testSDL = `
type User { id: ID! name: String username: String }
type Query { me: User }
`

func captureOutput(t *testing.T, fn func() error) (stdout, stderr string, err error) {
	t.Helper()
	oldOut, oldErr := os.Stdout, os.Stderr
	defer func() {
		os.Stdout, os.Stderr = oldOut, oldErr
	}()

	outR, outW, _ := os.Pipe()
	errR, errW, _ := os.Pipe()
	os.Stdout, os.Stderr = outW, errW

	doneOut := make(chan struct{})
	var bufOut bytes.Buffer
	go func() { io.Copy(&bufOut, outR); close(doneOut) }()

	doneErr := make(chan struct{})
	var bufErr bytes.Buffer
	go func() { io.Copy(&bufErr, errR); close(doneErr) }()

	err = fn()
	outW.Close()
	errW.Close()
	<-doneOut
	<-doneErr
	stdout, stderr = bufOut.String(), bufErr.String()
	return
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func users() []record.Record {
	return []record.Record{
		{record.IDKey: record.RootID, record.TypenameKey: record.RootType, "me": record.Ref{ID: "4"}},
		{record.IDKey: "4", record.TypenameKey: "User", "id": "4", "name": "Mark"},
	}
}

func TestHelp(t *testing.T) {
	out, _, err := captureOutput(t, func() error {
		return run([]string{"help", "read"})
	})
	require.NoError(t, err)
	require.Contains(t, out, "read FLAGS")

	out, _, err = captureOutput(t, func() error { return run([]string{"help"}) })
	require.NoError(t, err)
	require.Contains(t, out, "COMMANDS")

	_, _, err = captureOutput(t, func() error { return run([]string{"help", "nope"}) })
	require.Error(t, err)
}

func TestRun_Errors(t *testing.T) {
	_, stderr, err := captureOutput(t, func() error { return run(nil) })
	require.EqualError(t, err, "missing command")
	require.Contains(t, stderr, "USAGE")

	_, _, err = captureOutput(t, func() error { return run([]string{"frobnicate"}) })
	require.EqualError(t, err, `unknown command "frobnicate"`)

	_, stderr, err = captureOutput(t, func() error { return run([]string{"read"}) })
	require.EqualError(t, err, "-schema and -query are required")
	require.Contains(t, stderr, "read FLAGS")

	_, _, err = captureOutput(t, func() error { return run([]string{"inspect"}) })
	require.EqualError(t, err, "-db is required")
}

func TestRead_YAMLFixture(t *testing.T) {
	dir := t.TempDir()
	schemaFile := writeFile(t, dir, "schema.graphql", testSDL)
	queryFile := writeFile(t, dir, "me.graphql", `query Me { me { id name username } }`)
	recordsFile := writeFile(t, dir, "records.yaml", `
client:root:
  __typename: __Root
  me: {__ref: "4"}
"4":
  __typename: User
  id: "4"
  name: Mark
`)

	var out bytes.Buffer
	err := cmdRead([]string{"-schema", schemaFile, "-query", queryFile, "-records", recordsFile}, &out)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"data": {"me": {"id": "4", "name": "Mark"}},
		"missingData": true,
		"missingFields": ["4.username"],
		"seenRecords": ["4", "client:root"]
	}`, out.String())
}

func TestRead_JSONFixtureWithVariables(t *testing.T) {
	dir := t.TempDir()
	schemaFile := writeFile(t, dir, "schema.graphql", `
type User { id: ID! name: String }
type Query { user(id: ID!): User }
`)
	queryFile := writeFile(t, dir, "user.graphql", `
query A($id: ID!) { user(id: $id) { name } }
query B { user(id: "5") { name } }
`)
	recordsFile := writeFile(t, dir, "records.json", `{
  "client:root": {"__typename": "__Root", "user(id:\"4\")": {"__ref": "4"}},
  "4": {"__typename": "User", "name": "Mark"}
}`)

	args := []string{"-schema", schemaFile, "-query", queryFile, "-records", recordsFile}
	err := cmdRead(args, io.Discard)
	require.ErrorContains(t, err, "set -operation")

	err = cmdRead(append(args, "-operation", "C"), io.Discard)
	require.EqualError(t, err, `unknown operation "C"`)

	err = cmdRead(append(args, "-operation", "A"), io.Discard)
	require.Error(t, err)

	var out bytes.Buffer
	err = cmdRead(append(args, "-operation", "B"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"missingData":true`)
}

func TestRead_FromBoltStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cache.db")
	db, err := boltstore.Open(dbPath)
	require.NoError(t, err)
	for _, r := range users() {
		require.NoError(t, db.WriteRecord(r))
	}
	require.NoError(t, db.Close())

	schemaFile := writeFile(t, dir, "schema.graphql", testSDL)
	queryFile := writeFile(t, dir, "me.graphql", `query Me { me { id name } }`)
	var out bytes.Buffer
	err = cmdRead([]string{"-schema", schemaFile, "-query", queryFile, "-db", dbPath}, &out)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"data": {"me": {"id": "4", "name": "Mark"}},
		"missingData": false,
		"seenRecords": ["4", "client:root"]
	}`, out.String())
}

func TestInspect_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.sqlite")
	db, err := sqlitestore.Open(dbPath, nil)
	require.NoError(t, err)
	for _, r := range users() {
		require.NoError(t, db.WriteRecord(r))
	}
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, cmdInspect([]string{"-db", dbPath, "-type", "User"}, &out))
	require.JSONEq(t, `{"4": {"__id": "4", "__typename": "User", "id": "4", "name": "Mark"}}`, out.String())

	out.Reset()
	require.NoError(t, cmdInspect([]string{"-db", dbPath, "-id", record.RootID, "-format", "yaml"}, &out))
	require.Contains(t, out.String(), "__typename: __Root")
	require.Contains(t, out.String(), "  me:\n    __ref: \"4\"\n")

	require.EqualError(t, cmdInspect([]string{"-db", dbPath, "-id", "9"}, io.Discard), `record "9" not found`)
	require.EqualError(t, cmdInspect([]string{"-db", dbPath, "-format", "xml"}, io.Discard), `unknown format "xml"`)
	require.Error(t, cmdInspect([]string{"-db", filepath.Join(t.TempDir(), "missing.db")}, io.Discard))
}
