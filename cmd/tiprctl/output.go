package main

import (
	"encoding/json"
	"fmt"

	"tipr/internal/domain"
)

func writeJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printResult(tool string, payload json.RawMessage, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{
			"tool":   tool,
			"result": payload,
		})
	}
	if len(payload) == 0 {
		fmt.Println("null")
		return nil
	}
	fmt.Println(string(payload))
	return nil
}

func printTools(tools []domain.ToolInfo, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{"tools": tools})
	}
	fmt.Printf("tools=%d\n", len(tools))
	for _, tool := range tools {
		if tool.Description != "" {
			fmt.Printf("%s\t%s\n", tool.Name, tool.Description)
			continue
		}
		fmt.Println(tool.Name)
	}
	return nil
}
