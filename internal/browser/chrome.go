package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ChromeExecutable is a Chromium-family binary found on the system.
type ChromeExecutable struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type chromeCandidate struct {
	kind string
	path string
}

// FindChromeExecutable looks for a system Chrome, Chromium, Edge or Brave.
// customPath wins when set. A nil result with a nil error means nothing was
// found.
func FindChromeExecutable(customPath string) (*ChromeExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &ChromeExecutable{Kind: "custom", Path: customPath}, nil
	}

	var candidates []chromeCandidate
	switch runtime.GOOS {
	case "darwin":
		candidates = macCandidates()
	case "linux":
		candidates = linuxCandidates()
	case "windows":
		candidates = windowsCandidates()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	for _, c := range candidates {
		if fileExists(c.path) {
			return &ChromeExecutable{Kind: c.kind, Path: c.path}, nil
		}
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return &ChromeExecutable{Kind: name, Path: p}, nil
		}
	}
	return nil, nil
}

func macCandidates() []chromeCandidate {
	home := os.Getenv("HOME")
	return []chromeCandidate{
		{"chrome", "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{"chrome", filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{"chromium", "/Applications/Chromium.app/Contents/MacOS/Chromium"},
		{"edge", "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		{"brave", "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
	}
}

func linuxCandidates() []chromeCandidate {
	return []chromeCandidate{
		{"chrome", "/usr/bin/google-chrome"},
		{"chrome", "/usr/bin/google-chrome-stable"},
		{"chromium", "/usr/bin/chromium"},
		{"chromium", "/usr/bin/chromium-browser"},
		{"chromium", "/snap/bin/chromium"},
		{"edge", "/usr/bin/microsoft-edge"},
		{"brave", "/usr/bin/brave-browser"},
	}
}

func windowsCandidates() []chromeCandidate {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	if programFilesX86 == "" {
		programFilesX86 = `C:\Program Files (x86)`
	}
	var out []chromeCandidate
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		out = append(out, chromeCandidate{"chrome", filepath.Join(local, "Google", "Chrome", "Application", "chrome.exe")})
	}
	return append(out,
		chromeCandidate{"chrome", filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		chromeCandidate{"chrome", filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
		chromeCandidate{"edge", filepath.Join(programFilesX86, "Microsoft", "Edge", "Application", "msedge.exe")},
	)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
