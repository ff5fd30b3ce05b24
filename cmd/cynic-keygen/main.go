// Copyright 2025 Cynic Protocol
//
// Operator bootstrap CLI
//
// Generates an Ed25519 operator keypair and a skeleton operator.json/
// peers.json under a data directory, the CYNIC analogue of the
// teacher's cmd/bls-zk-setup one-shot setup tool.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/storage"
)

func main() {
	var (
		dataDir  = flag.String("data-dir", "./data", "operator data directory (operator.json, peers.json, private key)")
		keyFile  = flag.String("key-file", "", "private key file path (default: <data-dir>/operator.key)")
		peerList = flag.String("peers", "", "comma-separated seed peer addresses (id@address), written to peers.json")
		force    = flag.Bool("force", false, "overwrite an existing key/operator record")
	)
	flag.Parse()

	if *keyFile == "" {
		*keyFile = *dataDir + "/operator.key"
	}

	if !*force {
		if _, err := os.Stat(*keyFile); err == nil {
			fmt.Fprintf(os.Stderr, "cynic-keygen: %s already exists, pass -force to overwrite\n", *keyFile)
			os.Exit(1)
		}
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cynic-keygen: generate keypair: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cynic-keygen: create data dir: %v\n", err)
		os.Exit(1)
	}

	seed := keys.Private.Seed()
	if err := os.WriteFile(*keyFile, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "cynic-keygen: write key file: %v\n", err)
		os.Exit(1)
	}

	pubHex := hex.EncodeToString(keys.Public)
	rec := &storage.OperatorRecord{
		PubkeyHex:   pubHex,
		KeyRef:      *keyFile,
		EScore:      1.0,
		BurnTotal:   0,
		UptimeRatio: 1.0,
	}
	if err := storage.SaveOperator(*dataDir, rec); err != nil {
		fmt.Fprintf(os.Stderr, "cynic-keygen: write operator.json: %v\n", err)
		os.Exit(1)
	}

	peers := parseSeedPeers(*peerList)
	if err := storage.SavePeers(*dataDir, peers); err != nil {
		fmt.Fprintf(os.Stderr, "cynic-keygen: write peers.json: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("operator pubkey: %s\n", pubHex)
	fmt.Printf("private key:     %s\n", *keyFile)
	fmt.Printf("operator record: %s/operator.json\n", *dataDir)
	fmt.Printf("peers seeded:    %d\n", len(peers))
}

// parseSeedPeers turns "id1@addr1,id2@addr2" into PeerRecords, each
// starting at score 0 — the same starting point AddToPool gives a
// freshly discovered peer.
func parseSeedPeers(list string) []storage.PeerRecord {
	if list == "" {
		return nil
	}
	entries := strings.Split(list, ",")
	out := make([]storage.PeerRecord, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, "@", 2)
		rec := storage.PeerRecord{ID: parts[0]}
		if len(parts) == 2 {
			rec.Address = parts[1]
		}
		out = append(out, rec)
	}
	return out
}
