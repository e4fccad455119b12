// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"context"
	"fmt"

	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
)

// Method names served by every worker.
const (
	MethodRequestRecovery    = "request_recovery"
	MethodListWorkspaceTree  = "list_workspace_tree"
	MethodCopyFile           = "copy_file"
	MethodDeleteFile         = "delete_file"
	MethodRegisterCallback   = "register_callback"
	MethodUnregisterCallback = "unregister_callback"
)

func (s *Server) registerMethods(registry *rpc.Registry, eng engine.Engine) error {
	methods := map[string]rpc.Method{
		MethodRequestRecovery: {
			Help: "request_recovery(): terminates this worker so the supervisor recovers the fleet.",
			Call: func(context.Context, rpc.Params) (any, error) {
				s.RequestTermination(failure.NewRecoveryRequest(s.port).Error())

				return true, nil
			},
		},
		MethodListWorkspaceTree: {
			Help: "list_workspace_tree(workspace): lists every path of the workspace bottom-up.",
			Call: func(ctx context.Context, params rpc.Params) (any, error) {
				name, err := params.String(0)
				if err != nil {
					return nil, err
				}

				return s.workspaces.Tree(ctx, name)
			},
		},
		MethodCopyFile: {
			Help: "copy_file(path): returns the file contents, null if path is not a regular file.",
			Call: func(ctx context.Context, params rpc.Params) (any, error) {
				path, err := params.String(0)
				if err != nil {
					return nil, err
				}

				data, err := s.workspaces.ReadFile(ctx, path)
				if err != nil || data == nil {
					return nil, err
				}

				return data, nil
			},
		},
		MethodDeleteFile: {
			Help: "delete_file(path): removes a file or a directory tree, missing paths are ignored.",
			Call: func(ctx context.Context, params rpc.Params) (any, error) {
				path, err := params.String(0)
				if err != nil {
					return nil, err
				}

				return nil, s.workspaces.Delete(ctx, path)
			},
		},
		MethodRegisterCallback: {
			Help: "register_callback(address, port): routes engine events to the endpoint at address:port.",
			Call: func(ctx context.Context, params rpc.Params) (any, error) {
				if err := params.Expect(2); err != nil {
					return nil, err
				}

				address, err := params.String(0)
				if err != nil {
					return nil, err
				}

				port, err := params.Int(1)
				if err != nil {
					return nil, err
				}

				client := rpc.NewClient(fmt.Sprintf("http://%s:%d/", address, port))

				names, err := client.ListMethods(ctx)
				if err != nil {
					return nil, fmt.Errorf("callback endpoint %s is not reachable: %w", client.URL(), err)
				}

				s.log.Infof("Callback %s offers %v", client.URL(), names)

				return nil, eng.RegisterCallback(ctx, client)
			},
		},
		MethodUnregisterCallback: {
			Help: "unregister_callback(): stops routing engine events.",
			Call: func(context.Context, rpc.Params) (any, error) {
				eng.UnregisterCallback()

				return nil, nil
			},
		},
	}

	if err := registry.RegisterAll(methods); err != nil {
		return err
	}

	return registry.RegisterAll(eng.Methods())
}
