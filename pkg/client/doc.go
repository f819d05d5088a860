// Package client is the pharmaledger Go SDK.
//
// It wraps the pharmaledger HTTP API: reading and verifying the hash chain,
// managing drug inventory, and recording prescriptions.
//
// # Reading the chain
//
// Ledger reads are public, no token required:
//
//	c, _ := client.New("http://localhost:8080")
//	res, err := c.Verify(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.Valid {
//	    for _, v := range res.Violations {
//	        fmt.Printf("index %d: %s (%s)\n", v.Index, v.Kind, v.Detail)
//	    }
//	}
//
// # Recording inventory operations
//
// Mutating endpoints require an operator token when the server is configured
// with a token secret. Exchange the admin secret once; the token is attached
// to all subsequent requests automatically:
//
//	c, _ := client.New("http://localhost:8080")
//	if _, err := c.FetchToken(ctx, adminSecret, "jdoe", "pharmacist"); err != nil {
//	    log.Fatal(err)
//	}
//	drug, _ := c.CreateDrug(ctx, client.CreateDrugRequest{
//	    Name:         "Amoxicillin 500mg",
//	    Unit:         "capsule",
//	    InitialStock: 200,
//	})
//	result, _ := c.RecordStock(ctx, drug.ID, "dispense", client.StockRequest{
//	    Quantity: 20,
//	})
//	fmt.Println(result.Transaction.Hash)
//
// A pre-obtained token can also be supplied directly:
//
//	c, _ := client.New(serverURL, client.WithBearerToken(token))
package client
