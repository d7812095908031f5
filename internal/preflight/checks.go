package preflight

import (
	"fmt"
	"os/exec"

	"github.com/peterje/runbox/internal/models"
)

// CheckInterpreter looks the interpreter up on PATH and prints the result.
func CheckInterpreter(name string) models.InterpreterStatus {
	status := checkInterpreter(name)
	if status.Installed {
		fmt.Printf("✓ %s found (%s)\n", status.Name, status.Path)
	} else {
		fmt.Printf("⚠ %s is not installed. Snippets will fail to start until it is on PATH.\n", status.Name)
	}
	return status
}

func checkInterpreter(name string) models.InterpreterStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return models.InterpreterStatus{Name: name, Installed: false}
	}
	return models.InterpreterStatus{Name: name, Installed: true, Path: path}
}
