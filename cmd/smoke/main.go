// Command smoke runs an end-to-end check against a running server:
// creates a small family, asks for a classification in both locales and
// walks a duplicate through review. Exits non-zero on the first failure.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

func main() {
	if v := os.Getenv("SMOKE_BASE_URL"); v != "" {
		baseURL = v
	}

	fmt.Println("Starting smoke check against", baseURL)

	suffix := fmt.Sprintf("%d", time.Now().Unix())
	papa := "smoke-papa-" + suffix
	son := "smoke-son-" + suffix
	son2 := "smoke-son2-" + suffix

	step("create father", send("POST", "/persons", map[string]any{
		"id": papa, "first_name": "Ivan", "last_name": "Orlov",
		"gender": "male", "is_living": true,
	}, http.StatusCreated))

	step("create son", send("POST", "/persons", map[string]any{
		"id": son, "first_name": "Boris", "last_name": "Orlov",
		"gender": "male", "is_living": true,
	}, http.StatusCreated))

	step("link father and son", send("POST", "/relationships", map[string]any{
		"from_id": papa, "to_id": son, "type_code": "parent",
	}, http.StatusCreated))

	step("classify in English", send("GET",
		"/relationships/classify?a="+son+"&b="+papa+"&locale=en", nil, http.StatusOK))
	step("classify in Russian", send("GET",
		"/relationships/classify?a="+son+"&b="+papa+"&locale=ru", nil, http.StatusOK))

	// Enter the son twice and resolve the duplicate.
	step("create duplicate son", send("POST", "/persons", map[string]any{
		"id": son2, "first_name": "Boris", "last_name": "Orlov",
		"gender": "male", "is_living": true,
	}, http.StatusCreated))

	dup := struct {
		ID         string  `json:"id"`
		Confidence float64 `json:"confidence"`
	}{}
	step("check duplicate", sendInto("POST", "/duplicates/check", map[string]any{
		"profile_a": son, "profile_b": son2,
	}, http.StatusOK, &dup))
	if dup.ID == "" {
		fmt.Println("FAILED: duplicate pair was not proposed")
		os.Exit(1)
	}
	fmt.Printf("  pair %s confidence %.2f\n", dup.ID, dup.Confidence)

	step("confirm duplicate", send("POST", "/duplicates/"+dup.ID+"/confirm", map[string]any{
		"kept_profile_id": son, "reviewed_by": "smoke",
	}, http.StatusOK))

	step("list trees", send("GET", "/trees", nil, http.StatusOK))

	fmt.Println("Smoke check passed")
}

func step(name string, ok bool) {
	if !ok {
		fmt.Println("FAILED:", name)
		os.Exit(1)
	}
	fmt.Println("PASSED:", name)
}

func send(method, endpoint string, payload any, wantStatus int) bool {
	return sendInto(method, endpoint, payload, wantStatus, nil)
}

func sendInto(method, endpoint string, payload any, wantStatus int, out any) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("error encoding payload: %v\n", err)
			return false
		}
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		fmt.Printf("%s %s returned %d, want %d: %s\n",
			method, endpoint, resp.StatusCode, wantStatus, string(respBody))
		return false
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			fmt.Printf("error decoding response: %v\n", err)
			return false
		}
	}
	return true
}
