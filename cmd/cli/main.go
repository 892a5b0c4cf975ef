package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scriptbox/internal/sandbox"
)

var (
	serverURL string
	apiKey    string
	timeout   string
)

func main() {
	root := &cobra.Command{
		Use:   "scriptbox",
		Short: "CLI client for the scriptbox execution server",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SCRIPTBOX_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run a script on the server (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "30s", "Run timeout")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Run a script from a .js or .ts file on the server",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "30s", "Run timeout")
	root.AddCommand(execFileCmd)

	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script locally without a server (no tools available)",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocal,
	}
	runCmd.Flags().StringVar(&timeout, "timeout", "30s", "Run timeout")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return executeCode(string(data))
}

func executeCode(code string) error {
	payload := map[string]any{
		"code":    code,
		"timeout": timeout,
	}

	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", serverURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if exitCode, ok := result["exit_code"].(float64); ok && exitCode != 0 {
		os.Exit(int(exitCode))
	}

	return nil
}

func runLocal(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	dur, err := time.ParseDuration(timeout)
	if err != nil {
		return fmt.Errorf("parsing timeout: %w", err)
	}

	runner := sandbox.NewRunner(sandbox.RunnerOptions{})
	defer runner.Close()

	result, err := runner.Run(context.Background(), sandbox.Request{
		TaskID:  "cli",
		Code:    string(data),
		Timeout: dur,
	}, &printAdapter{})
	if err != nil {
		return err
	}

	if result.Stderr != "" {
		fmt.Fprintln(os.Stderr, result.Stderr)
	}
	fmt.Fprintf(os.Stderr, "status: %s (%s)\n", result.Status, result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		fmt.Fprintln(os.Stderr, "error:", result.Error)
	}

	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

// printAdapter streams output to the terminal and refuses every tool call.
type printAdapter struct{}

func (p *printAdapter) InvokeTool(_ context.Context, req sandbox.ToolCallRequest) sandbox.ToolCallResult {
	return sandbox.ToolFailed("Tool not found: " + req.ToolPath)
}

func (p *printAdapter) EmitOutput(_ context.Context, ev sandbox.OutputEvent) error {
	out := os.Stdout
	if ev.Stream == sandbox.StreamStderr {
		out = os.Stderr
	}
	fmt.Fprintln(out, ev.Line)
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
