package anchor

import (
	"bytes"
	"context"
	"crypto"
	_ "crypto/sha256" // register crypto.SHA256 for timestamp.CreateRequest's hash option
	"fmt"
	"io"
	"net/http"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func crypto256() crypto.Hash { return crypto.SHA256 }

// postTSA sends a binary RFC 3161 timestamp request to url and returns the
// raw DER response body.
func postTSA(ctx context.Context, url string, der []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(der))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/timestamp-query")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// postCalendar submits digest to an OpenTimestamps-style calendar server
// and returns the opaque receipt bytes it responds with.
func postCalendar(ctx context.Context, url string, digest []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/digest", bytes.NewReader(digest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opentimestamps: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// receiptCommitsTo checks that an OpenTimestamps-style receipt embeds the
// expected root hash as a verbatim prefix, which is how this package's
// calendar receipts are constructed (a full Merkle-path attestation parser
// is out of scope; see provider.go's Verify doc comment).
func receiptCommitsTo(receipt []byte, rootHash [32]byte) bool {
	return len(receipt) >= len(rootHash) && bytes.Equal(receipt[:len(rootHash)], rootHash[:])
}

// broadcastOpReturn constructs an OP_RETURN-style commitment payload and
// submits it via the configured RPC endpoint, returning the resulting
// transaction id. The wire format for the actual Bitcoin transaction
// construction is delegated to the RPC node.
func broadcastOpReturn(ctx context.Context, rpcURL string, digest []byte) (string, error) {
	payload := append([]byte("vcpaudit-commit:"), digest...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bitcoin: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(body)), nil
}

// fetchOpReturnCommitment retrieves the OP_RETURN payload for txid and
// checks it commits to rootHash.
func fetchOpReturnCommitment(ctx context.Context, rpcURL, txid string, rootHash [32]byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rpcURL+"/tx/"+txid, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bitcoin: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	want := append([]byte("vcpaudit-commit:"), rootHash[:]...)
	return bytes.Contains(body, want), nil
}
