// Package config loads the relay's YAML configuration and assembles a
// running engine from it.
//
// A minimal file:
//
//	listen: ":8080"
//	endpoints:
//	  - name: primary
//	    base_url: https://api.openai.com/v1
//	    model: gpt-4o-mini
//	    api_key: secretref:env:OPENAI_API_KEY
//	  - name: backup
//	    type: static
//	    text: "service is busy, try again later"
//	fallback_chain: [primary, backup]
//
// ${VAR} references anywhere in the file are expanded strictly before
// parsing. Credential fields (api_key, headers, auth keys and the JWT
// secret) additionally accept secretref: references.
package config
