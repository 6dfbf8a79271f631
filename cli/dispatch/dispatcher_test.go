package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type launch struct {
	argv []string
	cwd  string
	env  map[string]string
}

type fakeHost struct {
	workspace string
	console   bytes.Buffer
	launches  []launch
	actions   []*model.ExecutionRecord
	outputs   map[string]string
	exitCodes map[string]int
	failOn    map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		workspace: "/workspace",
		outputs:   map[string]string{},
		exitCodes: map[string]int{},
		failOn:    map[string]bool{},
	}
}

func (h *fakeHost) WorkspaceDir() string { return h.workspace }

func (h *fakeHost) LaunchProcess(_ context.Context, argv []string, cwd string, env map[string]string, out io.Writer) (int, error) {
	file := argv[len(argv)-1]
	if h.failOn[filepath.Base(file)] {
		return -1, errors.New("exec: not found")
	}
	h.launches = append(h.launches, launch{argv: argv, cwd: cwd, env: env})
	fmt.Fprintf(out, "running %s\n", filepath.Base(file))
	return h.exitCodes[filepath.Base(file)], nil
}

func (h *fakeHost) AppendAction(rec *model.ExecutionRecord) error {
	h.actions = append(h.actions, rec)
	return nil
}

func (h *fakeHost) SaveOutput(name string, data []byte) (string, error) {
	h.outputs[name] = string(data)
	return name, nil
}

func (h *fakeHost) Console() io.Writer { return &h.console }

func (h *fakeHost) Log(line string) { h.console.WriteString(line + "\n") }

var identity = Identity{
	Username:    "user@example.com",
	APIKey:      "secret",
	BuildName:   "my-job",
	BuildNumber: "42",
}

var win10Chrome = model.SeleniumTest{OperatingSystem: "Win10", Browser: "Chrome53", Resolution: "1366x768"}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"test.py", "py"},
		{"suite.test.js", "js"},
		{"README", ""},
		{".bashrc", ""},
		{"trailing.", ""},
		{"Test.PY", "PY"},
		{"app.jar", "jar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Extension(tt.name))
		})
	}
}

func TestLaunchersTable(t *testing.T) {
	want := map[string][]string{
		"py":  {"python", "test.py"},
		"rb":  {"ruby", "test.rb"},
		"jar": {"java", "-jar", "test.jar"},
		"js":  {"node", "test.js"},
		"sh":  {"sh", "test.sh"},
		"exe": {filepath.Join("/workspace", "test.exe")},
		"bat": {filepath.Join("/workspace", "test.bat")},
	}

	var got []string
	for ext := range Launchers {
		got = append(got, ext)
	}
	sort.Strings(got)
	require.Equal(t, []string{"bat", "exe", "jar", "js", "py", "rb", "sh"}, got)

	for ext, argv := range want {
		t.Run(ext, func(t *testing.T) {
			require.Equal(t, argv, Launchers[ext].Command("/workspace", "test."+ext))
		})
	}
}

func TestDescriptors(t *testing.T) {
	files := []string{"a.py", "b.txt", "c.rb", "noext", "D.PY"}
	tests := []model.SeleniumTest{win10Chrome, {OperatingSystem: "Mac10.12", Browser: "Safari10", Resolution: "1024x768"}}

	descs := Descriptors(files, tests)
	require.Len(t, descs, 4)
	require.Equal(t, "a.py", descs[0].FileName)
	require.Equal(t, []string{"python"}, descs[0].Interpreter)
	require.Equal(t, "Win10", descs[0].OperatingSystem)
	require.Equal(t, "c.rb", descs[1].FileName)
	require.Equal(t, "Safari10", descs[2].Browser)
	require.Equal(t, "rb", descs[3].Extension)
}

func TestDispatch_SkipsUnsupportedFiles(t *testing.T) {
	h := newFakeHost()
	d := New(zerolog.Nop(), h, identity, nil)

	records, err := d.Dispatch(context.Background(), []string{"test.py", "readme.txt", "run.sh"}, []model.SeleniumTest{win10Chrome})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, records, h.actions)

	require.Len(t, h.launches, 2)
	require.Equal(t, []string{"python", "test.py"}, h.launches[0].argv)
	require.Equal(t, []string{"sh", "run.sh"}, h.launches[1].argv)
	for _, l := range h.launches {
		require.Equal(t, "/workspace", l.cwd)
		require.Equal(t, "Chrome53", l.env[model.EnvBrowser])
		require.Equal(t, "Win10", l.env[model.EnvOperatingSystem])
		require.Equal(t, "1366x768", l.env[model.EnvResolution])
		require.Equal(t, "my-job", l.env[model.EnvBuildName])
		require.Equal(t, "42", l.env[model.EnvBuildNumber])
		require.Equal(t, "user@example.com", l.env[model.EnvUsername])
		require.Equal(t, "secret", l.env[model.EnvAPIKey])
	}

	for _, rec := range records {
		require.Equal(t, model.TestKindSelenium, rec.Kind)
		require.Empty(t, rec.RemoteTestID)
		require.Empty(t, rec.PublicURL)
		require.Equal(t, "Chrome53", rec.Env(model.EnvBrowser))
	}
	require.Equal(t, "run.sh", records[1].File)
	require.Equal(t, "running run.sh\n", h.outputs[records[1].OutputFile])

	console := h.console.String()
	require.Contains(t, console, "Environment Variables")
	require.Contains(t, console, "Errors/Output")
	require.Contains(t, console, "CBT_APIKEY: ********")
	require.NotContains(t, console, "secret")
}

func TestDispatch_OneRecordPerTestAndFile(t *testing.T) {
	h := newFakeHost()
	d := New(zerolog.Nop(), h, identity, nil)
	tests := []model.SeleniumTest{
		win10Chrome,
		{OperatingSystem: "Mac10.12", Browser: "Safari10", Resolution: "1024x768"},
		{OperatingSystem: "Win7", Browser: "IE11", Resolution: "1280x1024"},
	}
	files := []string{"a.py", "b.rb", "c.jar", "d.js", "e.exe", "f.sh", "g.bat", "h.txt"}

	records, err := d.Dispatch(context.Background(), files, tests)
	require.NoError(t, err)
	require.Len(t, records, len(tests)*7)

	// Each record carries its own environment snapshot.
	records[0].Environment[model.EnvBrowser] = "mutated"
	require.Equal(t, "Chrome53", records[1].Env(model.EnvBrowser))
	require.Equal(t, "IE11", records[len(records)-1].Env(model.EnvBrowser))
}

func TestDispatch_EmptyTestsIsNoop(t *testing.T) {
	h := newFakeHost()
	d := New(zerolog.Nop(), h, identity, nil)

	records, err := d.Dispatch(context.Background(), []string{"test.py"}, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, h.launches)
	require.Zero(t, h.console.Len())
}

func TestDispatch_NonZeroExitIsRecorded(t *testing.T) {
	h := newFakeHost()
	h.exitCodes["test.py"] = 1
	d := New(zerolog.Nop(), h, identity, nil)

	records, err := d.Dispatch(context.Background(), []string{"test.py"}, []model.SeleniumTest{win10Chrome})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 1, records[0].ExitCode)
}

func TestDispatch_LaunchErrorIsIsolated(t *testing.T) {
	h := newFakeHost()
	h.failOn["broken.exe"] = true
	d := New(zerolog.Nop(), h, identity, nil)

	records, err := d.Dispatch(context.Background(), []string{"broken.exe", "ok.py"}, []model.SeleniumTest{win10Chrome})
	require.Error(t, err)
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	require.Equal(t, "broken.exe", launchErr.File)
	require.Equal(t, []string{filepath.Join("/workspace", "broken.exe")}, launchErr.Command)

	require.Len(t, records, 1)
	require.Equal(t, "ok.py", records[0].File)
	require.True(t, strings.Contains(h.console.String(), "[ERROR] failed to launch broken.exe"))
}
