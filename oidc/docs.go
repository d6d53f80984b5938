// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is the relying party side of OpenID Connect: provider discovery,
authorization requests, callback verification and token maintenance.

Primary types provided by the package

* Config: the relying party's registration with a provider (issuer, client
id and secret, client authentication method, redirect URL, scopes and the
id_token signing algorithms it accepts).

* Client: a discovered provider. It builds authorization URLs (optionally
pushed via PAR), exchanges callbacks for verified tokens, refreshes tokens,
calls the userinfo endpoint and builds RP-initiated logout URLs. Clients hold
background resources, see Client.Done().

* ClientCache: a bounded cache of Clients shared by concurrent requests.

* TokenSet: the access_token, refresh_token and id_token of an
authentication. Token values use redacted string types.

* ProviderError: an OAuth error reported by one of the provider's endpoints.

The oidc/clientassertion package

The clientassertion package builds the signed JWTs used by the
client_secret_jwt and private_key_jwt client authentication methods.

Testing

StartTestProvider starts an in-process provider supporting discovery, the
code, implicit and hybrid flows, PAR, refresh, userinfo and logout.
*/
package oidc
