package todoman_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// composeService はdocker-compose.ymlから指定サービスの定義ブロックを切り出す。
func composeService(t *testing.T, content, name string) string {
	t.Helper()
	start := strings.Index(content, "\n  "+name+":\n")
	if start < 0 {
		t.Fatalf("docker-compose.yml should contain service %q", name)
	}
	block := content[start+1:]
	lines := strings.Split(block, "\n")
	end := len(block)
	offset := len(lines[0]) + 1
	for _, line := range lines[1:] {
		if line != "" && !strings.HasPrefix(line, "    ") {
			end = offset
			break
		}
		offset += len(line) + 1
	}
	return block[:end]
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsTodomanBinary(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/todoman") {
		t.Error("Dockerfile should build ./cmd/todoman")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/todoman"]`) {
		t.Error("Dockerfile should use the todoman binary as ENTRYPOINT")
	}
	// distrolessにはシェルがないため、ヘルスチェックはサブコマンドで行う
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	for _, svc := range []string{"db", "migrate", "api", "worker"} {
		composeService(t, content, svc)
	}
	if !strings.Contains(composeService(t, content, "db"), "image: postgres:") {
		t.Error("db service should use the PostgreSQL image")
	}
}

func TestDockerComposeCommands(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	for svc, want := range map[string]string{
		"api":     `command: ["serve"]`,
		"worker":  `command: ["worker"]`,
		"migrate": `command: ["migrate"]`,
	} {
		if !strings.Contains(composeService(t, content, svc), want) {
			t.Errorf("%s service should run %s", svc, want)
		}
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}

	// 認証プロバイダーへの通信が必要なのはapiのみ
	if !strings.Contains(composeService(t, content, "api"), "- external") {
		t.Error("api service should join the external network")
	}
	for _, svc := range []string{"db", "worker", "migrate"} {
		if strings.Contains(composeService(t, content, svc), "- external") {
			t.Errorf("%s service must not join the external network", svc)
		}
	}
}
